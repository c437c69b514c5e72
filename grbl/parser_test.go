package grbl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStatusV10Telegram(t *testing.T) {
	require := require.New(t)

	status, err := ParseStatus("<Idle|MPos:0.00,0.00,0.00|FS:0,0|Ov:100,100,100>")
	require.NoError(err)
	require.Equal(StateIdle, status.State)
	require.Equal(Position{X: 0, Y: 0, Z: 0}, status.MachinePos)
	require.Equal(0.0, status.FeedSpeed.FeedRate)
	require.Equal(0.0, status.FeedSpeed.SpindleSpeed)
	require.Equal(OverrideState{Feed: 100, Spindle: 100, Coolant: 100}, status.Overrides)
	require.False(status.HasWorkPos)
	require.False(status.HasLine)
	require.False(status.CapturedAt.IsZero())
}

func TestParseStatusV11Telegram(t *testing.T) {
	require := require.New(t)

	status, err := ParseStatus("<Run|MPos:10.5,5.25,2.1|WPos:10.5,5.25,2.1|FS:1500,12000|Ov:100,100,100|Buf:18|Rx:256|Line:42>")
	require.NoError(err)
	require.Equal(StateRun, status.State)
	require.Equal(Position{X: 10.5, Y: 5.25, Z: 2.1}, status.MachinePos)
	require.True(status.HasWorkPos)
	require.Equal(Position{X: 10.5, Y: 5.25, Z: 2.1}, status.WorkPos)
	require.Equal(1500.0, status.FeedSpeed.FeedRate)
	require.Equal(12000.0, status.FeedSpeed.SpindleSpeed)
	require.Equal(18, status.Buffer.PlannerCount)
	// Rx overflow clamps to the controller receive buffer size
	require.Equal(RxBufferCapacity, status.Buffer.RxCount)
	require.True(status.HasLine)
	require.Equal(42, status.Line)
}

func TestParseStatusFields(t *testing.T) {
	require := require.New(t)

	t.Run("rotary axes", func(t *testing.T) {
		status, err := ParseStatus("<Run|MPos:1.0,2.0,3.0,10.0,20.0,30.0>")
		require.NoError(err)
		require.Equal(Position{
			X: 1, Y: 2, Z: 3,
			A: 10, B: 20, C: 30,
			HasA: true, HasB: true, HasC: true,
		}, status.MachinePos)
	})

	t.Run("pins", func(t *testing.T) {
		status, err := ParseStatus("<Hold|Pn:XZPD>")
		require.NoError(err)
		require.True(status.Pins.LimitX)
		require.False(status.Pins.LimitY)
		require.True(status.Pins.LimitZ)
		require.True(status.Pins.Probe)
		require.True(status.Pins.Door)
		require.True(status.Pins.HasAlarm())
	})

	t.Run("pins without alarm", func(t *testing.T) {
		status, err := ParseStatus("<Idle|Pn:PCF>")
		require.NoError(err)
		require.True(status.Pins.Probe)
		require.True(status.Pins.CycleStart)
		require.True(status.Pins.FeedHold)
		require.False(status.Pins.HasAlarm())
	})

	t.Run("work coordinate offset", func(t *testing.T) {
		status, err := ParseStatus("<Idle|WCO:-5.0,1.5,0.0>")
		require.NoError(err)
		require.True(status.HasWorkOffset)
		require.Equal(Position{X: -5, Y: 1.5, Z: 0}, status.WorkOffset)
	})

	t.Run("feed only", func(t *testing.T) {
		status, err := ParseStatus("<Run|F:500.0>")
		require.NoError(err)
		require.Equal(500.0, status.FeedSpeed.FeedRate)
		require.Equal(0.0, status.FeedSpeed.SpindleSpeed)
	})

	t.Run("sub-state token", func(t *testing.T) {
		status, err := ParseStatus("<Hold:0|MPos:0,0,0>")
		require.NoError(err)
		require.Equal(StateHold, status.State)
	})

	t.Run("unknown state token maps to Unknown", func(t *testing.T) {
		status, err := ParseStatus("<Wobble|MPos:0,0,0>")
		require.NoError(err)
		require.Equal(StateUnknown, status.State)
	})

	t.Run("unknown keys ignored", func(t *testing.T) {
		status, err := ParseStatus("<Idle|MPos:1,2,3|Zorp:whatever|A>")
		require.NoError(err)
		require.Equal(Position{X: 1, Y: 2, Z: 3}, status.MachinePos)
	})

	t.Run("trailing newline tolerated", func(t *testing.T) {
		_, err := ParseStatus("<Idle|MPos:0,0,0>\r\n")
		require.NoError(err)
	})
}

func TestParseStatusErrors(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"no brackets", "Idle|MPos:0,0,0", ErrInvalidFormat},
		{"missing closing bracket", "<Idle|MPos:0,0,0", ErrInvalidFormat},
		{"empty string", "", ErrInvalidFormat},
		{"plain ok", "ok", ErrInvalidFormat},
		{"empty telegram", "<>", ErrEmptyResponse},
		{"mpos two floats", "<Idle|MPos:1.0,2.0>", ErrInvalidMachinePosition},
		{"mpos four floats", "<Idle|MPos:1,2,3,4>", ErrInvalidMachinePosition},
		{"mpos garbage", "<Idle|MPos:a,b,c>", ErrInvalidMachinePosition},
		{"wpos garbage", "<Idle|WPos:x,y,z>", ErrInvalidWorkPosition},
		{"wco short", "<Idle|WCO:1.0>", ErrInvalidWorkOffset},
		{"fs single value", "<Run|FS:1500>", ErrInvalidFeedSpeed},
		{"fs garbage", "<Run|FS:fast,slow>", ErrInvalidFeedSpeed},
		{"ov two values", "<Idle|Ov:100,100>", ErrInvalidOverrides},
		{"ov garbage", "<Idle|Ov:a,b,c>", ErrInvalidOverrides},
		{"unknown pin letter", "<Idle|Pn:XQ>", ErrUnknownPinLetter},
		{"buf garbage", "<Idle|Buf:full>", ErrInvalidBufferCount},
		{"rx garbage", "<Idle|Rx:lots>", ErrInvalidBufferCount},
		{"line garbage", "<Run|Line:forty>", ErrInvalidLineNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := ParseStatus(tt.input)
			require.Nil(status)
			require.ErrorIs(err, tt.want)
		})
	}
}

func TestParseStatusOverrideClamping(t *testing.T) {
	require := require.New(t)

	status, err := ParseStatus("<Idle|Ov:250,-10,150>")
	require.NoError(err)
	require.Equal(OverrideState{Feed: 200, Spindle: 0, Coolant: 150}, status.Overrides)
}

func TestParseStatusRxClamp(t *testing.T) {
	require := require.New(t)

	status, err := ParseStatus("<Idle|Rx:-4>")
	require.NoError(err)
	require.Equal(0, status.Buffer.RxCount)

	status, err = ParseStatus("<Idle|Rx:127>")
	require.NoError(err)
	require.Equal(127, status.Buffer.RxCount)
}

func TestParseStatusDeterministic(t *testing.T) {
	require := require.New(t)

	const telegram = "<Run|MPos:10.5,5.25,2.1|FS:1500,12000|Ov:110,90,100|Buf:3|Rx:96|Line:7>"

	first, err := ParseStatus(telegram)
	require.NoError(err)

	time.Sleep(time.Millisecond)

	second, err := ParseStatus(telegram)
	require.NoError(err)

	// field-equal except the capture timestamp
	require.True(first.Equal(second))
	require.False(second.CapturedAt.Before(first.CapturedAt))
}
