// Copyright (c) 2017 OysterPack, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package manager hosts every Service running in a process, the way
// pkg/actor/system.go's System registers Actors by path and
// pkg/service/registry.go's Registry looks Clients up by key, except
// keyed by the Service's own Id and Name instead of a reflected
// interface type.
package manager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	fabric "github.com/oysterpack/fabric"
	"github.com/oysterpack/fabric/config"
	"github.com/oysterpack/fabric/mq"
	"github.com/oysterpack/fabric/poller"
	"github.com/oysterpack/fabric/service"
)

// PollerFactory builds the Poller a newly created Service should use.
// Tests substitute a factory that returns an in-memory fake; production
// callers pass one that returns a *poller.TCPPoller.
type PollerFactory func(cfg config.ServiceConfig) (poller.Poller, error)

// Manager owns every Service created through it, the way
// pkg/actor/system.go's System owns every Actor registered under it.
type Manager struct {
	mu       sync.RWMutex
	byId     map[service.Id]*service.Service
	byName   map[string]*service.Service
	newPoll  PollerFactory
	registry prometheus.Registerer
	logger   zerolog.Logger
}

// New builds an empty Manager. newPoll is invoked once per Create to
// build that Service's Poller.
func New(newPoll PollerFactory, registry prometheus.Registerer, logger zerolog.Logger) *Manager {
	return &Manager{
		byId:     make(map[service.Id]*service.Service),
		byName:   make(map[string]*service.Service),
		newPoll:  newPoll,
		registry: registry,
		logger:   logger,
	}
}

// Create builds, registers and starts a new Service. The Service's
// component and handler registration must happen through configure
// before Start runs, since both are only legal in the service.New
// state.
func (m *Manager) Create(cfg config.ServiceConfig, configure func(*service.Service) error) (*service.Service, error) {
	m.mu.Lock()
	if _, exists := m.byName[cfg.Name]; exists {
		m.mu.Unlock()
		return nil, &fabric.RepeatError{Subject: "service", Key: cfg.Name}
	}
	m.mu.Unlock()

	p, err := m.newPoll(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := service.NewService(cfg, p, m.registry, m.logger)
	if err != nil {
		return nil, err
	}

	if configure != nil {
		if err := configure(svc); err != nil {
			return nil, err
		}
	}

	if err := svc.Start(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.byId[svc.Id()] = svc
	m.byName[svc.Name()] = svc
	m.mu.Unlock()
	return svc, nil
}

// GetById returns the Service with the given Id, or NotFoundError.
func (m *Manager) GetById(id service.Id) (*service.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.byId[id]
	if !ok {
		return nil, &fabric.NotFoundError{Subject: "service", Key: string(id)}
	}
	return svc, nil
}

// GetByName returns the Service with the given Name, or NotFoundError.
func (m *Manager) GetByName(name string) (*service.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.byName[name]
	if !ok {
		return nil, &fabric.NotFoundError{Subject: "service", Key: name}
	}
	return svc, nil
}

// Services returns a snapshot of every managed Service.
func (m *Manager) Services() []*service.Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*service.Service, 0, len(m.byId))
	for _, svc := range m.byId {
		out = append(out, svc)
	}
	return out
}

// StopById stops and unregisters the Service with the given Id. Stop
// blocks until the Service's OnStop/OnDestroy hooks have both returned
// (service.Service.Stop's contract), so by the time StopById returns the
// Service is fully torn down.
func (m *Manager) StopById(id service.Id) error {
	svc, err := m.GetById(id)
	if err != nil {
		return err
	}
	return m.stop(svc)
}

// StopByName stops and unregisters the Service with the given Name.
func (m *Manager) StopByName(name string) error {
	svc, err := m.GetByName(name)
	if err != nil {
		return err
	}
	return m.stop(svc)
}

// StopAll stops every managed Service. Errors are collected and the
// last one is returned, mirroring pkg/actor/system.go's
// KillRootActors sweep semantics but waiting for each Service in turn.
func (m *Manager) StopAll() error {
	var last error
	for _, svc := range m.Services() {
		if err := m.stop(svc); err != nil {
			last = err
		}
	}
	return last
}

func (m *Manager) stop(svc *service.Service) error {
	err := svc.Stop()
	m.mu.Lock()
	delete(m.byId, svc.Id())
	delete(m.byName, svc.Name())
	m.mu.Unlock()
	return err
}

// PostMessage delivers env to the named Service's mailbox from any
// goroutine, without the caller needing a reference to the Service
// itself.
func (m *Manager) PostMessage(targetName string, env mq.Envelope) error {
	svc, err := m.GetByName(targetName)
	if err != nil {
		return err
	}
	return svc.PostMessage(env)
}
