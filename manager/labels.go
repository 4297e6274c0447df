package manager

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type stateStyle struct {
	key   string
	color LedColor
	on    bool
}

var stateStyles = map[State]stateStyle{
	PortClosed:   {"state.port_closed", LedGreen, false},
	Starting:     {"state.starting", LedOrange, true},
	PortReady:    {"state.port_ready", LedGreen, true},
	Connecting:   {"state.connecting", LedOrange, true},
	Ready:        {"state.ready", LedGreen, true},
	Busy:         {"state.busy", LedOrange, true},
	Disconnected: {"state.disconnected", LedGreen, false},
	Stopping:     {"state.stopping", LedOrange, true},
	Stopped:      {"state.stopped", LedGreen, false},
	PortError:    {"state.port_error", LedRed, true},
}

var supportedLanguages = []language.Tag{language.English, language.French, language.German}

var langMatcher = language.NewMatcher(supportedLanguages)

func init() {
	// English
	message.SetString(language.English, "state.port_closed", "Port closed")
	message.SetString(language.English, "state.starting", "Starting ...")
	message.SetString(language.English, "state.port_ready", "Port ready")
	message.SetString(language.English, "state.connecting", "Connecting ...")
	message.SetString(language.English, "state.ready", "Ready")
	message.SetString(language.English, "state.busy", "Busy")
	message.SetString(language.English, "state.disconnected", "Disconnected")
	message.SetString(language.English, "state.stopping", "Stopping ...")
	message.SetString(language.English, "state.stopped", "Stopped")
	message.SetString(language.English, "state.port_error", "Fatal error")

	// French
	message.SetString(language.French, "state.port_closed", "Port fermé")
	message.SetString(language.French, "state.starting", "Démarrage ...")
	message.SetString(language.French, "state.port_ready", "Port prêt")
	message.SetString(language.French, "state.connecting", "Connexion ...")
	message.SetString(language.French, "state.ready", "Prêt")
	message.SetString(language.French, "state.busy", "Occupé")
	message.SetString(language.French, "state.disconnected", "Déconnecté")
	message.SetString(language.French, "state.stopping", "Arrêt ...")
	message.SetString(language.French, "state.stopped", "Arrêté")
	message.SetString(language.French, "state.port_error", "Erreur fatale")

	// German
	message.SetString(language.German, "state.port_closed", "Port geschlossen")
	message.SetString(language.German, "state.starting", "Startet ...")
	message.SetString(language.German, "state.port_ready", "Port bereit")
	message.SetString(language.German, "state.connecting", "Verbindet ...")
	message.SetString(language.German, "state.ready", "Bereit")
	message.SetString(language.German, "state.busy", "Beschäftigt")
	message.SetString(language.German, "state.disconnected", "Getrennt")
	message.SetString(language.German, "state.stopping", "Stoppt ...")
	message.SetString(language.German, "state.stopped", "Gestoppt")
	message.SetString(language.German, "state.port_error", "Schwerer Fehler")
}

// labeler renders state labels in one language.
type labeler struct {
	p *message.Printer
}

func newLabeler(lang language.Tag) *labeler {
	_, idx, _ := langMatcher.Match(lang)
	return &labeler{p: message.NewPrinter(supportedLanguages[idx])}
}

func (l *labeler) info(s State) StateInfo {
	style, ok := stateStyles[s]
	if !ok {
		return StateInfo{State: s, Label: s.String()}
	}

	return StateInfo{
		State:    s,
		Label:    l.p.Sprintf(style.key),
		LedColor: style.color,
		LedOn:    style.on,
	}
}
