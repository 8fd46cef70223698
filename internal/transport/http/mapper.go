package http

import (
	"strings"
	"time"

	"github.com/vovakirdan/watchparty/internal/core"
	"github.com/vovakirdan/watchparty/internal/proto"
)

func inboundToCommand(env *proto.Envelope) (*core.Command, *proto.Error) {
	room := strings.TrimSpace(env.RoomID)
	if room == "" {
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "roomId is required"}
	}
	if env.UserID == "" && env.Type != proto.TypeTimeUpdate {
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "userId is required"}
	}

	cmd := &core.Command{
		Room:     room,
		UserID:   env.UserID,
		UserName: env.UserName,
		MediaID:  env.MediaID,
	}
	if env.Data != nil {
		cmd.Playback = core.PlaybackUpdate{
			CurrentTime: env.Data.CurrentTime,
			IsPlaying:   env.Data.IsPlaying,
		}
	}

	switch env.Type {
	case proto.TypeCreateRoom:
		cmd.Kind = core.CommandCreateRoom
	case proto.TypeJoinRoom:
		cmd.Kind = core.CommandJoinRoom
	case proto.TypeLeaveRoom:
		cmd.Kind = core.CommandLeaveRoom
	case proto.TypePlay:
		cmd.Kind = core.CommandPlay
	case proto.TypePause:
		cmd.Kind = core.CommandPause
	case proto.TypeSeek:
		if cmd.Playback.CurrentTime == nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "seek requires data.currentTime"}
		}
		cmd.Kind = core.CommandSeek
	case proto.TypeTimeUpdate:
		if cmd.Playback.CurrentTime == nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "time-update requires data.currentTime"}
		}
		cmd.Kind = core.CommandTimeUpdate
	case proto.TypeChat:
		if env.Data == nil || strings.TrimSpace(env.Data.Message) == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "chat requires data.message"}
		}
		cmd.Kind = core.CommandChat
		cmd.Text = env.Data.Message
	default:
		return nil, nil
	}
	return cmd, nil
}

func outboundFromEvent(event *core.Event, now time.Time) proto.Envelope {
	out := proto.Envelope{
		RoomID:    event.Room,
		UserID:    event.UserID,
		UserName:  event.UserName,
		Timestamp: now.UnixMilli(),
	}

	switch event.Kind {
	case core.EventRoomCreated, core.EventRoomJoined:
		out.Type = proto.TypeRoomCreated
		if event.Kind == core.EventRoomJoined {
			out.Type = proto.TypeRoomJoined
		}
		if event.Snapshot != nil {
			info := toRoomInfo(*event.Snapshot)
			out.RoomInfo = &info
			out.MediaID = info.State.MediaID
			out.Data = &proto.Data{
				CurrentTime:  proto.Float(info.State.CurrentTime),
				IsPlaying:    proto.Bool(info.State.IsPlaying),
				Participants: info.Participants,
			}
		}
	case core.EventParticipantJoined, core.EventParticipantLeft:
		out.Type = proto.TypeParticipantJoined
		if event.Kind == core.EventParticipantLeft {
			out.Type = proto.TypeParticipantLeft
		}
		out.Data = &proto.Data{Participants: toParticipants(event.Participants)}
	case core.EventPlay, core.EventPause, core.EventSeek:
		switch event.Kind {
		case core.EventPlay:
			out.Type = proto.TypePlay
		case core.EventPause:
			out.Type = proto.TypePause
		default:
			out.Type = proto.TypeSeek
		}
		out.Data = &proto.Data{
			CurrentTime: event.Playback.CurrentTime,
			IsPlaying:   event.Playback.IsPlaying,
		}
	case core.EventChat:
		out.Type = proto.TypeChat
		if event.Chat != nil {
			out.MessageID = event.Chat.ID
			out.UserName = event.Chat.SenderName
			out.Timestamp = event.Chat.CreatedAt.UnixMilli()
			out.Data = &proto.Data{Message: event.Chat.Text}
		}
	case core.EventError:
		out.Type = proto.TypeError
		if event.Error == nil {
			out.Error = &proto.Error{Code: "unknown", Msg: "unknown error"}
		} else {
			out.Error = &proto.Error{Code: event.Error.Code, Msg: event.Error.Message}
		}
	default:
		out.Type = proto.TypeError
		out.Error = &proto.Error{Code: "unknown", Msg: "unknown event"}
	}
	return out
}

func toRoomInfo(s core.RoomSnapshot) proto.RoomInfo {
	return proto.RoomInfo{
		RoomID:       s.ID,
		Participants: toParticipants(s.Participants),
		State:        toPlaybackState(s.Playback),
		CreatedAt:    s.CreatedAt.UnixMilli(),
	}
}

func toPlaybackState(p core.Playback) proto.PlaybackState {
	return proto.PlaybackState{
		CurrentTime: p.CurrentTime,
		IsPlaying:   p.IsPlaying,
		MediaID:     p.MediaID,
	}
}

func toParticipants(in []core.ParticipantInfo) []proto.Participant {
	out := make([]proto.Participant, len(in))
	for i, p := range in {
		out[i] = proto.Participant{ID: p.ID, Name: p.Name, IsHost: p.IsHost}
	}
	return out
}

func errorEnvelope(code, msg string, now time.Time) proto.Envelope {
	return proto.Envelope{
		Type:      proto.TypeError,
		Timestamp: now.UnixMilli(),
		Error:     &proto.Error{Code: code, Msg: msg},
	}
}
