package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/scandyna/multidiagtools-sub015/logger"
)

var allTriggers = []trigger{
	trStartThreads, trAllThreadsReady, trStopThreads, trAllThreadsStopped, trPortClosed,
	trUnhandledError, trConnectionFailed, trConnecting, trConnected, trDisconnected, trReady, trBusy,
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		t    trigger
		to   State
	}{
		{PortClosed, trStartThreads, Starting},
		{Starting, trAllThreadsReady, PortReady},
		{Starting, trUnhandledError, PortError},
		{PortReady, trStopThreads, Stopping},
		{PortReady, trUnhandledError, PortError},
		{Ready, trUnhandledError, PortError},
		{Connecting, trConnectionFailed, PortError},
		{Stopping, trAllThreadsStopped, Stopped},
		{Stopped, trPortClosed, PortClosed},
		{PortError, trAllThreadsStopped, Stopped},
		{PortError, trStopThreads, Stopping},

		{PortReady, trConnecting, Connecting},
		{Connecting, trDisconnected, Disconnected},
		{Connecting, trConnected, Ready},
		{Disconnected, trConnecting, Connecting},
		{Ready, trDisconnected, Disconnected},
		{Busy, trDisconnected, Disconnected},
		{Ready, trBusy, Busy},
		{Busy, trReady, Ready},

		// running level shortcuts
		{Connecting, trConnecting, Connecting},
		{PortReady, trConnected, Ready},
		{Busy, trConnected, Ready},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.t.String(), func(t *testing.T) {
			next, ok := transition(tt.from, tt.t)
			require.True(t, ok)
			require.Equal(t, tt.to, next)
		})
	}
}

func TestTransition_Ignored(t *testing.T) {
	ignored := []struct {
		from State
		t    trigger
	}{
		{PortReady, trDisconnected},
		{PortReady, trBusy},
		{Disconnected, trDisconnected},
		{Ready, trReady},
		{Busy, trBusy},
		{Connecting, trBusy},
		{Stopping, trConnecting},
		{Stopping, trUnhandledError},
		{Stopped, trStartThreads},
		{PortError, trConnected},
		{Starting, trConnecting},
	}

	for _, tt := range ignored {
		next, ok := transition(tt.from, tt.t)
		require.False(t, ok, "%s/%s", tt.from, tt.t)
		require.Equal(t, tt.from, next)
	}
}

func TestTransition_PortClosedOnlyAcceptsStart(t *testing.T) {
	for _, tr := range allTriggers {
		next, ok := transition(PortClosed, tr)
		if tr == trStartThreads {
			require.True(t, ok)
			require.Equal(t, Starting, next)

			continue
		}
		require.False(t, ok, "trigger %s", tr)
		require.Equal(t, PortClosed, next)
	}
}

func TestState_Predicates(t *testing.T) {
	require := require.New(t)

	require.True(PortReady.IsReady())
	require.True(Ready.IsReady())
	require.False(Busy.IsReady())
	require.False(PortClosed.IsReady())

	for _, s := range []State{PortReady, Connecting, Ready, Busy, Disconnected} {
		require.True(s.IsRunning(), s.String())
	}
	for _, s := range []State{PortClosed, Starting, Stopping, Stopped, PortError} {
		require.False(s.IsRunning(), s.String())
	}

	require.True(Busy.IsConnected())
	require.False(Connecting.IsConnected())
	require.Equal("unknown", State(99).String())
}

func TestStateMachine(t *testing.T) {
	require := require.New(t)

	sm := newStateMachine(logger.GetLogger(), language.English)
	require.Equal(PortClosed, sm.State())

	var seen []StateInfo
	sm.AddHandler(func(prev State, info StateInfo) {
		seen = append(seen, info)
	})

	_, ok := sm.fire(trConnecting)
	require.False(ok)
	require.Empty(seen)

	for _, tr := range []trigger{trStartThreads, trAllThreadsReady, trConnecting, trConnecting, trConnected} {
		_, ok := sm.fire(tr)
		require.True(ok)
	}
	require.Equal(Ready, sm.State())

	// the self transition of Connecting is not published
	require.Len(seen, 4)
	require.Equal(StateInfo{State: Connecting, Label: "Connecting ...", LedColor: LedOrange, LedOn: true}, seen[2])
	require.Equal(StateInfo{State: Ready, Label: "Ready", LedColor: LedGreen, LedOn: true}, seen[3])
}

func TestStateMachine_WaitState(t *testing.T) {
	require := require.New(t)

	sm := newStateMachine(logger.GetLogger(), language.English)
	require.NoError(sm.WaitState(context.Background(), PortClosed))

	go func() {
		time.Sleep(20 * time.Millisecond)
		sm.fire(trStartThreads)
		sm.fire(trAllThreadsReady)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(sm.WaitState(ctx, PortReady, PortError))
	require.Equal(PortReady, sm.State())

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(sm.WaitState(ctx, Stopped), context.DeadlineExceeded)
}

func TestLabels(t *testing.T) {
	tests := []struct {
		lang  language.Tag
		state State
		label string
	}{
		{language.English, PortClosed, "Port closed"},
		{language.English, PortError, "Fatal error"},
		{language.AmericanEnglish, Busy, "Busy"},
		{language.French, Disconnected, "Déconnecté"},
		{language.Make("fr-CH"), Ready, "Prêt"},
		{language.German, PortReady, "Port bereit"},
		{language.Japanese, Connecting, "Connecting ..."},
	}

	for _, tt := range tests {
		t.Run(tt.lang.String()+"/"+tt.state.String(), func(t *testing.T) {
			info := newLabeler(tt.lang).info(tt.state)
			require.Equal(t, tt.label, info.Label)
			require.Equal(t, tt.state, info.State)
		})
	}

	info := newLabeler(language.English).info(PortError)
	require.Equal(t, LedRed, info.LedColor)
	require.True(t, info.LedOn)

	info = newLabeler(language.English).info(Disconnected)
	require.Equal(t, LedGreen, info.LedColor)
	require.False(t, info.LedOn)
}
