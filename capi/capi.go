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

// Command capi exports a C ABI over the fabric Manager/Service/Session
// types so a host process written in another language can embed fabric
// as a shared library (built with `go build -buildmode=c-shared`, which
// requires package main). No repo in the retrieved corpus layers a cgo
// export surface over its service runtime; this is built directly
// against Go's `//export` convention, the only mechanism the language
// offers for this kind of boundary.
package main

/*
#include <stdint.h>
#include <stdlib.h>

// method_callback is how a host-language component's method table entry
// is invoked: component name, method name, the variant-encoded argument,
// and an out/out-length pair the callback fills in with a variant-encoded
// result (allocated with malloc; freed by this package after the result
// is copied out). Returns 0 on success, non-zero on failure.
typedef int32_t (*method_callback)(const char* component, const char* method,
                                    const uint8_t* arg, int32_t arg_len,
                                    uint8_t** out, int32_t* out_len);

static int32_t call_method_callback(method_callback cb, const char* component,
                                     const char* method, const uint8_t* arg,
                                     int32_t arg_len, uint8_t** out, int32_t* out_len) {
    return cb(component, method, arg, arg_len, out, out_len);
}
*/
import "C"

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Masterminds/semver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	fabric "github.com/oysterpack/fabric"
	"github.com/oysterpack/fabric/component"
	"github.com/oysterpack/fabric/config"
	"github.com/oysterpack/fabric/manager"
	"github.com/oysterpack/fabric/mq"
	"github.com/oysterpack/fabric/packet"
	"github.com/oysterpack/fabric/poller"
	"github.com/oysterpack/fabric/service"
	"github.com/oysterpack/fabric/variant"
)

// handle is an opaque int64 the host process carries around instead of
// a Go pointer, the way cgo handle tables are conventionally built
// (Go pointers may not be retained on the C side across calls).
type handle int64

var (
	nextHandle int64

	managers sync.Map // handle -> *manager.Manager
	services sync.Map // handle -> *service.Service

	lastErrMu sync.Mutex
	lastErr   = make(map[int64]string) // goroutine id substitute: per-handle last error
)

func newHandle() handle {
	return handle(atomic.AddInt64(&nextHandle, 1))
}

func setLastError(h handle, err error) {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	if err == nil {
		delete(lastErr, int64(h))
		return
	}
	lastErr[int64(h)] = err.Error()
}

var defaultLogger = zerolog.Nop()

func errNotFound(subject string) error {
	return &fabric.NotFoundError{Subject: subject}
}

// envelopeFor wraps a Packet the way service.Service's own dispatch
// loop expects to find it on the mailbox.
func envelopeFor(p *packet.Packet) mq.Envelope {
	return mq.Envelope{Tag: "packet", Payload: p}
}

//export manager_create
func manager_create(metricsNamespace *C.char) C.longlong {
	reg := prometheus.NewRegistry()
	mgr := manager.New(func(cfg config.ServiceConfig) (poller.Poller, error) {
		return poller.NewTCPPoller(1024, 0, nil, nil), nil
	}, reg, defaultLogger)
	h := newHandle()
	managers.Store(h, mgr)
	return C.longlong(h)
}

//export service_create
func service_create(managerHandle C.longlong, name *C.char, listenAddr *C.char, fps C.int) C.longlong {
	h := handle(managerHandle)
	v, ok := managers.Load(h)
	if !ok {
		setLastError(h, errNotFound("manager"))
		return 0
	}
	mgr := v.(*manager.Manager)

	cfg := config.ServiceConfig{
		Name:       C.GoString(name),
		ListenAddr: C.GoString(listenAddr),
		Fps:        int(fps),
	}
	svc, err := mgr.Create(cfg, nil)
	if err != nil {
		setLastError(h, err)
		return 0
	}
	sh := newHandle()
	services.Store(sh, svc)
	return C.longlong(sh)
}

//export service_send_packet
func service_send_packet(serviceHandle C.longlong, sessionId C.ulonglong, opcode C.uint, payload *C.char, payloadLen C.int) C.int {
	sh := handle(serviceHandle)
	v, ok := services.Load(sh)
	if !ok {
		setLastError(sh, errNotFound("service"))
		return -1
	}
	svc := v.(*service.Service)

	data := C.GoBytes(unsafe.Pointer(payload), payloadLen)
	p := &packet.Packet{
		Opcode:    uint32(opcode),
		SessionId: uint64(sessionId),
		Payload:   data,
	}
	if err := svc.PostMessage(envelopeFor(p)); err != nil {
		setLastError(sh, err)
		return -1
	}
	return 0
}

//export session_close
func session_close(serviceHandle C.longlong, sessionId C.ulonglong) C.int {
	sh := handle(serviceHandle)
	v, ok := services.Load(sh)
	if !ok {
		setLastError(sh, errNotFound("service"))
		return -1
	}
	svc := v.(*service.Service)
	if err := svc.CloseSession(uint64(sessionId)); err != nil {
		setLastError(sh, err)
		return -1
	}
	return 0
}

//export service_stop
func service_stop(serviceHandle C.longlong) C.int {
	sh := handle(serviceHandle)
	v, ok := services.Load(sh)
	if !ok {
		setLastError(sh, errNotFound("service"))
		return -1
	}
	svc := v.(*service.Service)
	if err := svc.Stop(); err != nil {
		setLastError(sh, err)
		return -1
	}
	services.Delete(sh)
	return 0
}

// nativeComponent adapts a host-language component, reachable only
// through a C function pointer, to the component.Component interface so
// it can be registered on a Service the same way cmd/fabricd's counter
// is. Lifecycle hooks are no-ops: a cgo host has no equivalent of Go's
// OnInit/OnStart/OnStop/OnDestroy/OnBackPressure, only its method table.
type nativeComponent struct {
	component.Base
	name    string
	version *semver.Version
	cb      C.method_callback
	cName   *C.char
	methods []string
}

func (c *nativeComponent) Name() string             { return c.name }
func (c *nativeComponent) Version() *semver.Version { return c.version }

func (c *nativeComponent) Methods() []component.Method {
	methods := make([]component.Method, len(c.methods))
	for i, name := range c.methods {
		methods[i] = component.Method{Name: name, Func: c.callNative(name)}
	}
	return methods
}

// callNative builds the component.MethodFunc that marshals args to the
// variant wire format, invokes the C callback through the trampoline,
// and unmarshals its result - the same Marshal/Unmarshal pair
// variant/codec.go exposes for the capnp+zlib wire codec.
func (c *nativeComponent) callNative(method string) func(*component.Context, variant.Variant) (variant.Variant, error) {
	cMethod := C.CString(method)
	return func(ctx *component.Context, args variant.Variant) (variant.Variant, error) {
		argBytes, err := variant.Marshal(args)
		if err != nil {
			return variant.NullValue, err
		}
		var argPtr *C.uint8_t
		if len(argBytes) > 0 {
			argPtr = (*C.uint8_t)(unsafe.Pointer(&argBytes[0]))
		}

		var outPtr *C.uint8_t
		var outLen C.int32_t
		rc := C.call_method_callback(c.cb, c.cName, cMethod, argPtr, C.int32_t(len(argBytes)), &outPtr, &outLen)
		if rc != 0 {
			return variant.NullValue, &fabric.Error{Kind_: fabric.Internal, Message: "native method call failed: " + method}
		}
		if outPtr == nil || outLen == 0 {
			return variant.NullValue, nil
		}
		resultBytes := C.GoBytes(unsafe.Pointer(outPtr), outLen)
		C.free(unsafe.Pointer(outPtr))
		return variant.Unmarshal(resultBytes)
	}
}

// methodNamesFromCSV splits a comma-separated method name list the way
// service_register_component receives them from the host, since cgo
// cannot pass a Go []string across the boundary directly.
func methodNamesFromCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var names []string
	start := 0
	for i := 0; i < len(csv); i++ {
		if csv[i] == ',' {
			names = append(names, csv[start:i])
			start = i + 1
		}
	}
	names = append(names, csv[start:])
	return names
}

//export service_register_component
func service_register_component(serviceHandle C.longlong, name *C.char, version *C.char, methodNamesCSV *C.char, cb C.method_callback) C.int {
	sh := handle(serviceHandle)
	v, ok := services.Load(sh)
	if !ok {
		setLastError(sh, errNotFound("service"))
		return -1
	}
	svc := v.(*service.Service)

	ver, err := semver.NewVersion(C.GoString(version))
	if err != nil {
		setLastError(sh, err)
		return -1
	}

	c := &nativeComponent{
		name:    C.GoString(name),
		version: ver,
		cb:      cb,
		cName:   C.CString(C.GoString(name)),
		methods: methodNamesFromCSV(C.GoString(methodNamesCSV)),
	}
	if err := svc.RegisterComponent(c); err != nil {
		setLastError(sh, err)
		return -1
	}
	return 0
}

//export log_write
func log_write(level *C.char, msg *C.char) {
	lvl, err := zerolog.ParseLevel(C.GoString(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	defaultLogger.WithLevel(lvl).Msg(C.GoString(msg))
}

//export get_last_error
func get_last_error(h C.longlong) *C.char {
	lastErrMu.Lock()
	msg, ok := lastErr[int64(h)]
	lastErrMu.Unlock()
	if !ok {
		return nil
	}
	return C.CString(msg)
}

func main() {}
