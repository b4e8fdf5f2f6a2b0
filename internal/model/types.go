// Package model defines shared data structures.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Track identifies one of the two independent progression ladders.
type Track string

const (
	TrackBase Track = "base"
	TrackJob  Track = "job"
)

// Tracks lists every known track in display order.
var Tracks = []Track{TrackBase, TrackJob}

// ParseTrack maps user input to a Track.
func ParseTrack(s string) (Track, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base", "b":
		return TrackBase, nil
	case "job", "j":
		return TrackJob, nil
	default:
		return "", fmt.Errorf("unknown track %q (want base or job)", s)
	}
}

// Process is a candidate game client found in the OS process table.
type Process struct {
	PID  uint32
	Name string
}

// Snapshot is one complete point-in-time read of the tracked client fields.
type Snapshot struct {
	BaseXP     uint32
	JobXP      uint32
	HP         uint32
	HPMax      uint32
	SP         uint32
	SPMax      uint32
	BaseLevel  uint8
	JobLevel   uint8
	Name       string
	ModuleBase uintptr
}

// Level returns the current level of the given track.
func (s Snapshot) Level(track Track) uint8 {
	if track == TrackJob {
		return s.JobLevel
	}
	return s.BaseLevel
}

// XP returns the current XP of the given track.
func (s Snapshot) XP(track Track) uint32 {
	if track == TrackJob {
		return s.JobXP
	}
	return s.BaseXP
}

// Progress describes how far a character is through its current level.
// Known is false when neither a manual estimate nor a confirmed requirement exists.
type Progress struct {
	Known          bool
	XPRequired     uint64
	XPRemaining    uint64
	Percentage     float64
	Confirmed      bool
	ManualEstimate bool
}

// StatsView is the read model handed to the presentation layer after each poll.
type StatsView struct {
	SessionTime      time.Duration
	MonstersKilled   uint64
	TotalBaseXP      uint64
	TotalJobXP       uint64
	TotalDamageTaken uint64
	BaseXPPerHour    uint64
	JobXPPerHour     uint64
	DamagePerMinute  uint64
	AvgBaseXPPerMob  uint64
	AvgJobXPPerMob   uint64
	Current          Snapshot
	BaseProgress     Progress
	JobProgress      Progress
}

// LevelUp records a confirmed level transition.
type LevelUp struct {
	SessionID  string
	Character  string
	Track      Track
	Level      uint16
	XPRequired uint64
	At         time.Time
}

// LevelUpFilter narrows journal queries.
type LevelUpFilter struct {
	Character string
	SessionID string
	Since     *time.Time
	Last      int
}
