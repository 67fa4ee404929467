package main

import (
	"fmt"
	"sync"

	"github.com/fako1024/cgmbridge/pkg/adapter/gattadapter"
	"github.com/fako1024/cgmbridge/pkg/adapter/tinyadapter"
	"github.com/fako1024/cgmbridge/pkg/config"
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/fako1024/cgmbridge/pkg/mock"
)

type closablePlatform interface {
	heartbeat.Platform
	Close() error
}

// platformProvider hands out the BLE platform for each transmitter. Hardware adapters are
// opened on first use and shared, mock platforms simulate the requested transmitter
type platformProvider struct {
	cfg    config.HeartbeatConfig
	logger glucose.Logger

	mu       sync.Mutex
	platform closablePlatform
}

func newPlatformProvider(cfg config.HeartbeatConfig, logger glucose.Logger) *platformProvider {
	return &platformProvider{
		cfg:    cfg,
		logger: logger,
	}
}

func (p *platformProvider) get(id heartbeat.Identity) (heartbeat.Platform, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Adapter == config.AdapterMock {
		if p.platform != nil {
			if err := p.platform.Close(); err != nil {
				return nil, err
			}
		}
		p.platform = mock.New(mock.WithDevice(mock.DeviceFor(id, p.cfg.MockInterval)))
		return p.platform, nil
	}

	if p.platform != nil {
		return p.platform, nil
	}

	var err error
	switch p.cfg.Adapter {
	case config.AdapterGatt:
		p.platform, err = gattadapter.New(
			gattadapter.WithHCIDevice(p.cfg.HCIDevice),
			gattadapter.WithLogger(p.logger),
		)
	case config.AdapterTinyGo:
		p.platform, err = tinyadapter.New(
			tinyadapter.WithLogger(p.logger),
		)
	default:
		return nil, fmt.Errorf("unsupported BLE adapter: %q", p.cfg.Adapter)
	}
	if err != nil {
		p.platform = nil
		return nil, fmt.Errorf("failed to initialize BLE adapter: %w", err)
	}

	return p.platform, nil
}

func (p *platformProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.platform == nil {
		return nil
	}
	err := p.platform.Close()
	p.platform = nil

	return err
}
