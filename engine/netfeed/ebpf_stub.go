//go:build !linux

package netfeed

import (
	"net/netip"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/models"
)

// stubLoader makes the module compile everywhere; attaching fails so the
// daemon runs without packet telemetry on non-Linux hosts.
type stubLoader struct {
	ch chan []byte
}

func newLoader() loader {
	ch := make(chan []byte)
	close(ch)
	return &stubLoader{ch: ch}
}

func (s *stubLoader) attach(cfg config.Netfeed) error {
	return models.NewError(models.ErrKindPipeline, "netfeed", "eBPF load: only supported on Linux")
}

func (s *stubLoader) events() <-chan []byte { return s.ch }

func (s *stubLoader) readStats() (RawTrafficSnapshot, error) {
	return RawTrafficSnapshot{}, models.NewError(models.ErrKindPipeline, "netfeed", "eBPF load: only supported on Linux")
}

func (s *stubLoader) updateBlocklist(addrs []netip.Addr) error {
	return models.NewError(models.ErrKindPipeline, "netfeed", "eBPF load: only supported on Linux")
}

func (s *stubLoader) close() error { return nil }
