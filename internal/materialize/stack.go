package materialize

// frame is one open ancestor directory. The root frame has depth -1.
type frame struct {
	depth int
	path  string
	// escaped marks a directory that resolved outside the root. Everything
	// opened beneath it fails.
	escaped bool
}

// pathStack holds the currently open ancestors of the entry being
// processed. Frames are tagged with the depth they were opened at, so an
// entry's parent is the nearest frame strictly shallower than the entry.
// When depths grow one level at a time this is the same as popping until
// len == depth+1; when depths skip levels the nearest shallower ancestor
// is used.
type pathStack struct {
	frames []frame
}

func newPathStack(root string) *pathStack {
	return &pathStack{frames: []frame{{depth: -1, path: root}}}
}

// parentFor pops every frame at or below depth and returns the new top.
// The root frame is never popped.
func (s *pathStack) parentFor(depth int) string {
	for len(s.frames) > 1 && s.frames[len(s.frames)-1].depth >= depth {
		s.frames = s.frames[:len(s.frames)-1]
	}
	return s.frames[len(s.frames)-1].path
}

func (s *pathStack) push(depth int, path string) {
	s.frames = append(s.frames, frame{depth: depth, path: path})
}

func (s *pathStack) pushEscaped(depth int, path string) {
	s.frames = append(s.frames, frame{depth: depth, path: path, escaped: true})
}

// escaped reports whether the current top frame lies outside the root.
func (s *pathStack) escaped() bool {
	return s.frames[len(s.frames)-1].escaped
}

func (s *pathStack) len() int {
	return len(s.frames)
}
