// Copyright 2023 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build arm64
// +build arm64

package main

import "github.com/gokrazy/gokrazy"

func gokrazyInit() {
	// Wait until the clock is synchronized, otherwise TLS certificate
	// validation fails and job ids (RFC3339 timestamps) run backwards.
	gokrazy.WaitForClock()
}
