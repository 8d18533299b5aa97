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

import (
	"regexp"
	"strings"
)

// Content inside these tags never reaches the observer or storage.
var privateTagRe = regexp.MustCompile(`(?is)<(private|recall-context)>.*?</(private|recall-context)>`)

// StripPrivateTags removes <private> and <recall-context> blocks.
func StripPrivateTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	return privateTagRe.ReplaceAllString(s, "")
}

// IsPrivateOnly reports whether nothing observable remains after stripping.
func IsPrivateOnly(s string) bool {
	return strings.TrimSpace(StripPrivateTags(s)) == ""
}
