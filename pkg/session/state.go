// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package session

// State is an active session's lifecycle stage.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateActive
	StateCompleting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateCompleting:
		return "completing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// canTransition reports whether from -> to is allowed. Termination is
// reachable from every live state; a completing session returns to active
// when a new prompt arrives.
func canTransition(from, to State) bool {
	if from == StateTerminated {
		return false
	}
	if to == StateTerminated {
		return true
	}
	switch from {
	case StateCreated:
		return to == StateStarting
	case StateStarting:
		return to == StateActive
	case StateActive:
		return to == StateCompleting
	case StateCompleting:
		return to == StateActive
	}
	return false
}
