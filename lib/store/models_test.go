package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataFlagBits(t *testing.T) {
	flag := DataFlagFromBits(BitKeepData | BitTransparentData)
	require.True(t, flag.IsKeepData)
	require.True(t, flag.IsTransparentData)
	require.Equal(t, uint32(3), flag.ToBits())
}

func TestDataFlagBitsRoundTrip(t *testing.T) {
	for _, bits := range []uint32{0, BitKeepData, BitTransparentData, BitKeepData | BitTransparentData} {
		flag := DataFlagFromBits(bits)
		require.Equal(t, bits, flag.ToBits())
	}
}

func TestTrackerStateIsEndState(t *testing.T) {
	end := map[TrackerState]bool{
		TrackerStateInit:           false,
		TrackerStateReady:          false,
		TrackerStateStop:          false,
		TrackerStateStopped:       true,
		TrackerStateInComingFinish: false,
		TrackerStateFinish:        true,
	}
	for state, want := range end {
		require.Equal(t, want, state.IsEndState(), "state %v", state)
	}
}
