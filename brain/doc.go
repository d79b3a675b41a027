// Copyright 2025 Poiesic Systems
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


// Package brain builds the search-index representation of a resource.
//
// A Builder accumulates everything one ingestion pass learns about a resource
// (paragraphs, sentence vectors, labels, relations and the keys the index must
// drop) and is converted with Build into a core.IndexMessage. The builder does
// no I/O; callers load field artifacts and feed them in.
//
// Key shapes produced by the builder:
//
//	paragraph  {rid}/{type}/{field}[/{split}]/{start}-{end}
//	sentence   {rid}/{type}/{field}[/{split}]/{index}/{start}-{end}
//	user       {rid}/{type}/{field}/{vectorId}/{start}-{end}
//
// Resource labels are flattened as /{facet}/{value}, for example /n/s/PROCESSED
// or /l/topics/science.
//
// Basic usage:
//
//	b := brain.New(rid, brain.WithLogger(logger))
//	b.ApplyFieldText("t/body", text)
//	b.ApplyFieldMetadata("t/body", metadata, nil, nil, nil, extracted, nil)
//	b.ApplyFieldVectors("t/body", vectors, true, nil)
//	msg := b.Build()
package brain
