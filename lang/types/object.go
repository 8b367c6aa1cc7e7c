package types

// An Object is a heap-allocated value. Every object embeds an objHeader that
// links it into the owning heap's object list and carries the mark bit for a
// future collector.
type Object interface {
	Value
	header() *objHeader
}

type objHeader struct {
	next   Object
	marked bool
}

func (h *objHeader) header() *objHeader { return h }

var (
	_ Object = (*String)(nil)
	_ Object = (*Function)(nil)
	_ Object = (*Native)(nil)
	_ Object = (*Closure)(nil)
	_ Object = (*Upvalue)(nil)
)

// A String is an immutable byte sequence with its precomputed FNV-1a hash.
// Strings are interned through the heap, so two equal strings are the same
// object and equality reduces to identity.
type String struct {
	objHeader
	str  string
	hash uint32
}

func (s *String) String() string { return s.str }
func (s *String) Type() string   { return "string" }

// Hash returns the precomputed FNV-1a hash of the string contents.
func (s *String) Hash() uint32 { return s.hash }

// Len returns the length of the string in bytes.
func (s *String) Len() int { return len(s.str) }

// A Function is the compiled form of a function declaration (or of the
// top-level script): its arity, the number of upvalues its closures carry,
// the chunk of bytecode and an optional name.
type Function struct {
	objHeader
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *String // nil for the top-level script
}

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return "<fn " + f.Name.str + ">"
}

func (f *Function) Type() string { return "function" }

// A NativeFn is a function provided by the embedder. Natives cannot signal
// errors structurally; they may return Nil or a sentinel on failure.
type NativeFn func(args []Value) Value

// A Native wraps a NativeFn as a callable value.
type Native struct {
	objHeader
	Fn NativeFn
}

func (n *Native) String() string { return "<native fn>" }
func (n *Native) Type() string   { return "function" }

// A Closure pairs a function with the upvalues it captured. The upvalue
// array has length Fn.UpvalueCount.
type Closure struct {
	objHeader
	Fn       *Function
	Upvalues []*Upvalue
}

func (c *Closure) String() string { return c.Fn.String() }
func (c *Closure) Type() string   { return "function" }

// An Upvalue is a variable captured by a closure. While open it designates
// an absolute slot of the machine's value stack; once closed it owns the
// value in its Closed cell. Open upvalues are linked through Next in order
// of strictly decreasing Loc.
type Upvalue struct {
	objHeader
	Loc    int // absolute value-stack slot while open, -1 once closed
	Closed Value
	Next   *Upvalue
}

func (u *Upvalue) String() string { return "upvalue" }
func (u *Upvalue) Type() string   { return "upvalue" }

// IsOpen reports whether the upvalue still points into the value stack.
func (u *Upvalue) IsOpen() bool { return u.Loc >= 0 }
