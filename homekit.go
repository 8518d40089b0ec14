package panelkit

import (
	"context"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const defaultHomeKitDirectory = "./homekit"

// HkThing is anything presentable as a HomeKit accessory.
type HkThing interface {
	GetHk() *accessory.A
	GetUniqueId() uint64
	Sync() error
}

// hkRunner owns the HomeKit server lifecycle. hap fixes the accessory set at
// server construction, so every entity rebuild stops the server and starts a
// fresh one over the same store; bridge identity and pairings survive.
type hkRunner struct {
	Pin       string
	Directory string
	Addr      string
	Debug     bool

	name    string
	version string

	store  hap.Store
	cancel context.CancelFunc
	done   chan struct{}
	log    *log.Logger
}

// Start builds a server over the given accessories and serves it in the
// background. Accessory ids come from the things themselves, hap treats them
// as stable identities across restarts.
func (hk *hkRunner) Start(ctx context.Context, things []HkThing) error {
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hk.name,
		Manufacturer: brandName,
		Firmware:     hk.version,
	})

	accs := []*accessory.A{}
	for _, th := range things {
		a := th.GetHk()
		if a == nil {
			continue
		}
		if a.Info != nil && a.Info.FirmwareRevision != nil && a.Info.FirmwareRevision.Value() == "" {
			a.Info.FirmwareRevision.SetValue(hk.version)
		}
		a.Id = th.GetUniqueId()
		accs = append(accs, a)
	}

	if hk.store == nil {
		dir := hk.Directory
		if len(dir) < 1 {
			dir = defaultHomeKitDirectory
		}
		hk.store = hap.NewFsStore(dir)
	}

	server, err := hap.NewServer(hk.store, bridge.A, accs...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	server.Pin = hk.Pin
	if len(hk.Addr) > 0 {
		server.Addr = hk.Addr
	}

	if hk.Debug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	hk.cancel = cancel
	hk.done = done

	go func() {
		defer close(done)
		err := server.ListenAndServe(runCtx)
		if err != nil && runCtx.Err() == nil {
			hk.log.Error("HomeKit server stopped", "error", err)
		}
	}()

	hk.log.Info("HomeKit server started", "accessories", len(accs))
	return nil
}

// Stop shuts the running server down and waits until it released its
// listeners, so a following Start can bind the same address. Safe to call
// when nothing runs.
func (hk *hkRunner) Stop() {
	if hk.cancel == nil {
		return
	}
	hk.cancel()
	<-hk.done
	hk.cancel = nil
	hk.done = nil
}
