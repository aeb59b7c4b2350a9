package jellyfin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tam1m/streamystats-sub003/internal/models"
)

type jfSession struct {
	Id         string `json:"Id"`
	UserId     string `json:"UserId"`
	UserName   string `json:"UserName"`
	Client     string `json:"Client"`
	DeviceName string `json:"DeviceName"`

	NowPlayingItem *struct {
		Id           string `json:"Id"`
		Name         string `json:"Name"`
		Type         string `json:"Type"`
		RunTimeTicks int64  `json:"RunTimeTicks"`
		Container    string `json:"Container"`

		MediaStreams []struct {
			Type    string `json:"Type"`
			Codec   string `json:"Codec"`
			Width   int    `json:"Width"`
			Height  int    `json:"Height"`
			BitRate int64  `json:"BitRate"`
		} `json:"MediaStreams"`

		MediaSources []struct {
			Bitrate int64 `json:"Bitrate"`
		} `json:"MediaSources"`
	} `json:"NowPlayingItem"`

	PlayState *struct {
		PositionTicks int64  `json:"PositionTicks"`
		PlayMethod    string `json:"PlayMethod"`
		IsPaused      bool   `json:"IsPaused"`
	} `json:"PlayState"`

	TranscodingInfo *struct {
		Bitrate                  int64    `json:"Bitrate"`
		VideoCodec               string   `json:"VideoCodec"`
		AudioCodec               string   `json:"AudioCodec"`
		Container                string   `json:"Container"`
		Width                    int      `json:"Width"`
		Height                   int      `json:"Height"`
		TranscodeReasons         []string `json:"TranscodeReasons"`
		IsVideoDirect            bool     `json:"IsVideoDirect"`
		HardwareAccelerationType string   `json:"HardwareAccelerationType"`
	} `json:"TranscodingInfo"`
}

// ActiveSessions returns the sessions currently playing something, with
// codec and transcode details normalized. Sessions without a playing item
// are dropped; individually undecodable entries are skipped.
func (c *Client) ActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	var raw []json.RawMessage
	if err := c.get(ctx, "/Sessions", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]models.ActiveSession, 0, len(raw))
	for _, msg := range raw {
		var s jfSession
		if err := json.Unmarshal(msg, &s); err != nil {
			continue
		}
		if s.NowPlayingItem == nil || s.NowPlayingItem.Id == "" {
			continue
		}
		out = append(out, convertSession(s))
	}
	return out, nil
}

func convertSession(s jfSession) models.ActiveSession {
	as := models.ActiveSession{
		SessionKey:     s.Id,
		UserName:       s.UserName,
		RemoteUserID:   s.UserId,
		ItemName:       s.NowPlayingItem.Name,
		RemoteItemID:   s.NowPlayingItem.Id,
		ItemType:       s.NowPlayingItem.Type,
		ClientName:     s.Client,
		DeviceName:     s.DeviceName,
		RuntimeSeconds: ticksToSeconds(s.NowPlayingItem.RunTimeTicks),
		Container:      strings.ToLower(s.NowPlayingItem.Container),
		PlayMethod:     "DirectPlay",
	}

	if s.PlayState != nil {
		as.PositionSeconds = ticksToSeconds(s.PlayState.PositionTicks)
		as.IsPaused = s.PlayState.IsPaused
		if s.PlayState.PlayMethod != "" {
			as.PlayMethod = s.PlayState.PlayMethod
		}
	}

	var streamBitrate int64
	for _, ms := range s.NowPlayingItem.MediaStreams {
		switch strings.ToLower(ms.Type) {
		case "video":
			if as.VideoCodec == "" && ms.Codec != "" {
				as.VideoCodec = strings.ToLower(ms.Codec)
			}
			if as.Width == 0 && ms.Width > 0 {
				as.Width = ms.Width
				as.Height = ms.Height
			}
			streamBitrate += ms.BitRate
		case "audio":
			if as.AudioCodec == "" && ms.Codec != "" {
				as.AudioCodec = strings.ToLower(ms.Codec)
			}
			streamBitrate += ms.BitRate
		}
	}

	if ti := s.TranscodingInfo; ti != nil {
		as.IsTranscoding = true
		as.PlayMethod = "Transcode"
		as.TranscodeVideo = strings.ToLower(ti.VideoCodec)
		as.TranscodeAudio = strings.ToLower(ti.AudioCodec)
		as.TranscodeReasons = ti.TranscodeReasons
		as.HardwareAccel = ti.HardwareAccelerationType != "" && ti.HardwareAccelerationType != "none"
		if ti.Container != "" {
			as.Container = strings.ToLower(ti.Container)
		}
		if ti.Bitrate > 0 {
			as.BitrateBps = ti.Bitrate
		}
		if ti.Width > 0 {
			as.Width = ti.Width
			as.Height = ti.Height
		}
	}

	if as.BitrateBps == 0 {
		if len(s.NowPlayingItem.MediaSources) > 0 && s.NowPlayingItem.MediaSources[0].Bitrate > 0 {
			as.BitrateBps = s.NowPlayingItem.MediaSources[0].Bitrate
		} else {
			as.BitrateBps = streamBitrate
		}
	}

	return as
}
