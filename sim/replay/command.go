package replay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// CommandKind is a playback control posted by a viewer.
type CommandKind int

const (
	CmdPause CommandKind = iota
	CmdResume
	CmdTogglePause
	CmdSpeedUp
	CmdSlowDown
	CmdSetSpeed
	CmdSeek
	CmdQuit
)

// Command is one message on the one-way control queue. Value carries the
// speed for CmdSetSpeed and the virtual time for CmdSeek.
type Command struct {
	Kind  CommandKind
	Value float64
}

// Apply executes c. It reports false for CmdQuit.
func (r *Replay) Apply(c Command) bool {
	switch c.Kind {
	case CmdPause:
		r.Pause()
	case CmdResume:
		r.Resume()
	case CmdTogglePause:
		r.paused = !r.paused
	case CmdSpeedUp:
		r.SpeedUp()
	case CmdSlowDown:
		r.SlowDown()
	case CmdSetSpeed:
		if err := r.SetSpeed(c.Value); err != nil {
			logrus.Warnf("replay: %v", err)
		}
	case CmdSeek:
		r.SeekTo(c.Value)
	case CmdQuit:
		return false
	}
	return true
}

// Drive plays the stream in wall time: every interval it drains pending
// commands, advances one frame and calls onFrame. It returns when the stream
// end is pinned, a CmdQuit arrives, or ctx is done. A nil or closed
// commands channel is ignored.
func (r *Replay) Drive(ctx context.Context, commands <-chan Command, interval time.Duration, onFrame func(*Replay)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if !r.Apply(c) {
				return nil
			}
		case <-ticker.C:
			r.Frame(interval.Seconds())
			if onFrame != nil {
				onFrame(r)
			}
			if r.pinned {
				return nil
			}
		}
	}
}
