package zoneminder

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aidect/zmsidecar/internal/imaging"
)

// Shared memory field names, qualified as "Struct::field" the way the
// descriptor names them. Kept as constants so a host ABI change surfaces as
// a single lookup failure rather than a scattered set of string literals.
const (
	fieldValid          = "SharedData::valid"
	fieldLastWriteIndex = "SharedData::last_write_index"
	fieldState          = "SharedData::state"
	fieldLastEvent      = "SharedData::last_event"
	fieldFormat         = "SharedData::format"
	fieldImageSize      = "SharedData::imagesize"

	fieldTriggerState    = "TriggerData::trigger_state"
	fieldTriggerScore    = "TriggerData::trigger_score"
	fieldTriggerCause    = "TriggerData::trigger_cause"
	fieldTriggerText     = "TriggerData::trigger_text"
	fieldTriggerShowtext = "TriggerData::trigger_showtext"
)

// State is the host's monitor state, read from SharedData::state.
type State uint32

const (
	StateUnknown State = iota
	StateIdle
	StatePrealarm
	StateAlarm
	StateAlert
	StateTape
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateIdle:
		return "Idle"
	case StatePrealarm:
		return "Prealarm"
	case StateAlarm:
		return "Alarm"
	case StateAlert:
		return "Alert"
	case StateTape:
		return "Tape"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// TriggerState is the value written to TriggerData::trigger_state to drive
// the handshake in Trigger.
type TriggerState uint32

const (
	TriggerCancel TriggerState = iota
	TriggerOn
	TriggerOff
)

var formatFromByte = map[uint8]imaging.SubpixelOrder{
	2:  imaging.None,
	6:  imaging.RGB,
	5:  imaging.BGR,
	7:  imaging.BGRA,
	8:  imaging.RGBA,
	9:  imaging.ABGR,
	10: imaging.ARGB,
}

// ShmInvalid is returned when SharedData::valid reads as 0: the publisher
// has not finished initialising the region, or has torn it down.
type ShmInvalid struct {
	Path string
}

func (e *ShmInvalid) Error() string {
	return fmt.Sprintf("shm region at %s is not valid (valid=0)", e.Path)
}

// MonitorState is a point-in-time snapshot of the fields MonitorClient.Read
// cares about. It is a value type: nothing about it stays fresh after the
// call that produced it returns.
type MonitorState struct {
	LastWriteIndex int32
	State          State
	LastEventID    uint64
	Format         imaging.SubpixelOrder
	ImageSize      uint32
}

// IsIdle reports whether the host considers this monitor idle.
func (m MonitorState) IsIdle() bool {
	return m.State == StateIdle
}

// MonitorClient is the state/trigger façade over a monitor's shared memory
// region. It owns the ShmFile exclusively — nothing else in this process
// should hold a second handle to the same path.
type MonitorClient struct {
	path   string
	shm    *ShmFile
	logger *zap.Logger

	triggerPollInterval time.Duration
	triggerTimeout      time.Duration
}

// Connect opens the monitor's tmpfs region and returns a ready client.
// logger may be nil, in which case handshake timeouts go unreported.
func Connect(path string, layout *Layout, logger *zap.Logger) (*MonitorClient, error) {
	shm, err := OpenShmFile(path, layout)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitorClient{
		path:                path,
		shm:                 shm,
		logger:              logger,
		triggerPollInterval: 10 * time.Millisecond,
		triggerTimeout:      5 * time.Second,
	}, nil
}

// Close releases the underlying shared memory handle.
func (m *MonitorClient) Close() error {
	return m.shm.Close()
}

// Shm exposes the underlying ShmFile for components (ImageStream) that need
// raw positional reads this façade does not itself provide.
func (m *MonitorClient) Shm() *ShmFile {
	return m.shm
}

// Read takes a consistent snapshot of the monitor's published state. There
// are no locks: a publisher racing this read may be observed mid-update,
// which is why valid and the inode check exist as guards rather than a
// synchronisation primitive.
func (m *MonitorClient) Read() (MonitorState, error) {
	valid, err := ReadField[uint8](m.shm, fieldValid)
	if err != nil {
		return MonitorState{}, err
	}
	if valid == 0 {
		return MonitorState{}, &ShmInvalid{Path: m.path}
	}

	lastWriteIndex, err := ReadField[int32](m.shm, fieldLastWriteIndex)
	if err != nil {
		return MonitorState{}, err
	}
	state, err := ReadField[uint32](m.shm, fieldState)
	if err != nil {
		return MonitorState{}, err
	}
	lastEvent, err := ReadField[uint64](m.shm, fieldLastEvent)
	if err != nil {
		return MonitorState{}, err
	}
	format, err := ReadField[uint8](m.shm, fieldFormat)
	if err != nil {
		return MonitorState{}, err
	}
	imageSize, err := ReadField[uint32](m.shm, fieldImageSize)
	if err != nil {
		return MonitorState{}, err
	}

	if err := m.shm.CheckStale(); err != nil {
		return MonitorState{}, err
	}

	order, ok := formatFromByte[format]
	if !ok {
		return MonitorState{}, fmt.Errorf("unrecognised subpixel order byte %d", format)
	}

	return MonitorState{
		LastWriteIndex: lastWriteIndex,
		State:          State(state),
		LastEventID:    lastEvent,
		Format:         order,
		ImageSize:      imageSize,
	}, nil
}

// IsIdle is a convenience wrapper around Read for callers that only care
// about idleness (the Pipeline's Recording -> Running transition).
func (m *MonitorClient) IsIdle() (bool, error) {
	state, err := m.Read()
	if err != nil {
		return false, err
	}
	return state.IsIdle(), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Trigger runs the write-score-then-state handshake: auxiliary fields are
// written before the state transition so a publisher peeking at the region
// mid-handshake sees consistent text, then trigger_state is flipped to On
// and Trigger polls for the publisher to reach Alarm (an alarm frame has
// been recorded) before resetting. The reset preserves whatever frame the
// publisher already marked; it only stops further frames from being
// marked. Returns the event id the publisher settled on, even if the Alarm
// state was never observed within the timeout (best-effort).
func (m *MonitorClient) Trigger(cause, description string, score uint32) (uint64, error) {
	causeCap := m.shm.lookup(fieldTriggerCause).Size
	textCap := m.shm.lookup(fieldTriggerText).Size
	if err := m.shm.WriteString(fieldTriggerCause, truncate(cause, causeCap-1)); err != nil {
		return 0, err
	}
	if err := m.shm.WriteString(fieldTriggerText, truncate(description, textCap-1)); err != nil {
		return 0, err
	}
	if err := m.shm.ZeroField(fieldTriggerShowtext); err != nil {
		return 0, err
	}
	if err := WriteField(m.shm, fieldTriggerScore, score); err != nil {
		return 0, err
	}

	if err := WriteField(m.shm, fieldTriggerState, uint32(TriggerOn)); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(m.triggerTimeout)
	alarmed := false
	for {
		state, err := m.Read()
		if err != nil {
			return 0, err
		}
		if state.State == StateAlarm {
			alarmed = true
			break
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(m.triggerPollInterval)
	}
	if !alarmed {
		m.logger.Warn("trigger did not reach Alarm within timeout, resetting anyway",
			zap.String("path", m.path),
			zap.Duration("timeout", m.triggerTimeout))
	}

	if err := m.shm.ZeroField(fieldTriggerCause); err != nil {
		return 0, err
	}
	if err := m.shm.ZeroField(fieldTriggerText); err != nil {
		return 0, err
	}
	if err := m.shm.ZeroField(fieldTriggerShowtext); err != nil {
		return 0, err
	}
	if err := WriteField(m.shm, fieldTriggerScore, uint32(0)); err != nil {
		return 0, err
	}
	if err := WriteField(m.shm, fieldTriggerState, uint32(TriggerCancel)); err != nil {
		return 0, err
	}

	final, err := m.Read()
	if err != nil {
		return 0, err
	}
	return final.LastEventID, nil
}
