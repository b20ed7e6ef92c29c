// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package callctx implements the call contexts of the interprocedural analysis: persistent call stacks with a
// canonical numeric identifier, the chop that bounds how many distinct call targets a branch may traverse, and the
// identifiers of bounded witness traces.
package callctx

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"
)

// ID is the canonical identifier of a stack. The empty stack has ID 0, and no non-empty stack hashes to 0.
type ID uint64

// EmptyID is the identifier of the empty context ("top-level, caller unknown").
const EmptyID ID = 0

func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Frame is a call frame: the binary the call was made from and the address the callee returns to.
type Frame struct {
	Binary string
	Return uint64
}

func (f Frame) String() string {
	return fmt.Sprintf("%s@0x%x", f.Binary, f.Return)
}

// Stack is a persistent call stack. The nil *Stack is the empty stack. Pushing or popping never modifies an existing
// stack; stacks can be shared freely between goroutines once built.
type Stack struct {
	parent *Stack
	frame  Frame
	id     ID
	depth  int
}

// Hash returns the identifier of the stack obtained by pushing frame onto the stack with identifier parent.
func Hash(parent ID, frame Frame) ID {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(parent))
	h.Write(buf[:])
	h.Write([]byte(frame.Binary))
	h.Write([]byte{0})
	binary.LittleEndian.PutUint64(buf[:], frame.Return)
	h.Write(buf[:])
	id := ID(h.Sum64())
	if id == EmptyID {
		id = 1
	}
	return id
}

// Push returns a new stack with frame on top of s.
func (s *Stack) Push(frame Frame) *Stack {
	return &Stack{
		parent: s,
		frame:  frame,
		id:     Hash(s.ID(), frame),
		depth:  s.Len() + 1,
	}
}

// Pop returns the top frame and the rest of the stack. ok is false if s is empty.
func (s *Stack) Pop() (top Frame, rest *Stack, ok bool) {
	if s == nil {
		return Frame{}, nil, false
	}
	return s.frame, s.parent, true
}

// Top returns the top frame of the stack. ok is false if s is empty.
func (s *Stack) Top() (Frame, bool) {
	if s == nil {
		return Frame{}, false
	}
	return s.frame, true
}

// ID returns the canonical identifier of the stack.
func (s *Stack) ID() ID {
	if s == nil {
		return EmptyID
	}
	return s.id
}

// Len returns the number of frames in the stack.
func (s *Stack) Len() int {
	if s == nil {
		return 0
	}
	return s.depth
}

// IsEmpty returns true for the empty stack.
func (s *Stack) IsEmpty() bool { return s == nil }

// Frames returns the frames of the stack, outermost first.
func (s *Stack) Frames() []Frame {
	frames := make([]Frame, s.Len())
	pos := len(frames) - 1
	for cur := s; cur != nil; cur = cur.parent {
		frames[pos] = cur.frame
		pos--
	}
	return frames
}

// Contains returns true when some frame of the stack satisfies f.
func (s *Stack) Contains(f func(Frame) bool) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if f(cur.frame) {
			return true
		}
	}
	return false
}

func (s *Stack) String() string {
	if s == nil {
		return "[]"
	}
	parts := make([]string, 0, s.depth)
	for _, f := range s.Frames() {
		parts = append(parts, f.String())
	}
	return "[" + strings.Join(parts, " -> ") + "]"
}
