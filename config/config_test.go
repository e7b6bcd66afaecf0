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

package config

import "testing"

func TestNormalizeAppliesDefaults(t *testing.T) {
	c, err := Normalize(ServiceConfig{Name: "echo"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if c.Fps != DefaultFps {
		t.Fatalf("expected default Fps %d, got %d", DefaultFps, c.Fps)
	}
	if c.FrameDrainCap != DefaultFrameDrainCap {
		t.Fatalf("expected default FrameDrainCap %d, got %d", DefaultFrameDrainCap, c.FrameDrainCap)
	}
}

func TestValidateRejectsBlankName(t *testing.T) {
	if err := (&ServiceConfig{Fps: 30}).Validate(); err == nil {
		t.Fatal("expected error for blank Name")
	}
}

func TestValidateRejectsOutOfRangeFps(t *testing.T) {
	if err := (&ServiceConfig{Name: "x", Fps: 2000}).Validate(); err == nil {
		t.Fatal("expected error for Fps > 1000")
	}
}
