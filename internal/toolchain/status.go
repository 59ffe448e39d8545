package toolchain

// Status is a snapshot of the running dev session.
type Status struct {
	Running       bool   `json:"running"`
	ClientReady   bool   `json:"clientReady"`
	ServerReady   bool   `json:"serverReady"`
	Listening     bool   `json:"listening"`
	Address       string `json:"address,omitempty"`
	ModuleVersion uint64 `json:"moduleVersion"`
	HotState      string `json:"hotState,omitempty"`
	Browsers      int    `json:"browsers"`
}

// Status returns the state of the current dev session. The zero Status is
// returned when no session is running.
func (t *Toolchain) Status() Status {
	s := t.session.Load()
	if s == nil {
		return Status{}
	}
	return s.status()
}

func (s *devSession) status() Status {
	st := Status{
		Running:     true,
		ClientReady: s.clientReady.resolved(),
		ServerReady: s.serverReady.resolved(),
		Listening:   s.started.Load(),
		HotState:    s.reloader.State().String(),
		Browsers:    s.hub.ClientCount(),
	}
	if addr, ok := s.addr.Load().(string); ok {
		st.Address = addr
	}
	if h := s.reloader.Registry().Current(); h != nil {
		st.ModuleVersion = h.Version
	}
	return st
}
