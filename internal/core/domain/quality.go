package domain

import "time"

// Classification is the per-session connection quality bucket.
type Classification string

const (
	QualityExcellent  Classification = "excellent"
	QualityGood       Classification = "good"
	QualityPoor       Classification = "poor"
	QualityCritical   Classification = "critical"
	QualityConnecting Classification = "connecting"
	QualityUnknown    Classification = "unknown"
)

// RoomQuality is the worst-case reduction over all sessions.
type RoomQuality string

const (
	RoomExcellent    RoomQuality = "excellent"
	RoomGood         RoomQuality = "good"
	RoomPoor         RoomQuality = "poor"
	RoomDisconnected RoomQuality = "disconnected"
)

// QualitySample is one observation of a session's transport statistics.
type QualitySample struct {
	LossRate       float64
	Jitter         time.Duration
	Classification Classification
	Timestamp      time.Time
}

// ReduceRoomQuality folds per-session classifications into the aggregate room
// quality: any poor/critical session makes the room poor, any non-excellent
// session makes it good, otherwise excellent. No sessions means disconnected.
func ReduceRoomQuality(samples []QualitySample) RoomQuality {
	if len(samples) == 0 {
		return RoomDisconnected
	}
	quality := RoomExcellent
	for _, s := range samples {
		switch s.Classification {
		case QualityPoor, QualityCritical:
			return RoomPoor
		case QualityExcellent:
		default:
			quality = RoomGood
		}
	}
	return quality
}

// VideoRung is one step of the adaptive video quality ladder.
type VideoRung struct {
	Name      string
	Width     int
	Height    int
	FrameRate int
}

// VideoLadder returns the quality ladder in ascending order.
func VideoLadder() []VideoRung {
	return []VideoRung{
		{Name: "360p@15", Width: 640, Height: 360, FrameRate: 15},
		{Name: "360p@30", Width: 640, Height: 360, FrameRate: 30},
		{Name: "480p@30", Width: 854, Height: 480, FrameRate: 30},
		{Name: "720p@30", Width: 1280, Height: 720, FrameRate: 30},
	}
}

// NextLowerRung returns the rung one step below, or the same rung at the bottom.
func NextLowerRung(current VideoRung) VideoRung {
	ladder := VideoLadder()
	for i := range ladder {
		if ladder[i].Name == current.Name {
			if i == 0 {
				return current
			}
			return ladder[i-1]
		}
	}
	return ladder[0]
}

// NextHigherRung returns the rung one step above, or the same rung at the top.
func NextHigherRung(current VideoRung) VideoRung {
	ladder := VideoLadder()
	for i := range ladder {
		if ladder[i].Name == current.Name {
			if i == len(ladder)-1 {
				return current
			}
			return ladder[i+1]
		}
	}
	return ladder[0]
}
