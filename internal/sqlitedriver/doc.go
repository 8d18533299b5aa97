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

// Package sqlitedriver registers the SQLite database/sql driver used by the
// recall stores under the name "sqlite3". CGO builds link go-sqlcipher so the
// memory database can be encrypted at rest; pure-Go builds fall back to
// modernc.org/sqlite without encryption.
//
// Import for side effects:
//
//	import _ "github.com/teradata-labs/recall/internal/sqlitedriver"
package sqlitedriver

// DriverName is the database/sql driver name registered by this package.
const DriverName = "sqlite3"
