package types

// A Heap owns every object allocated during a compilation and the execution
// that follows, plus the string intern pool. The compiler and the machine
// must share one heap so that interned string identity holds across both.
//
// Objects are linked into an intrusive list at allocation time and released
// in bulk when the heap is discarded. A mark-sweep collector, if one is ever
// added, would be driven from the machine's roots (value stack, frame
// closures, globals, open upvalues and, during compilation, the live
// compiler frames' functions) and trace per-kind edges: Function → name and
// constants, Closure → function and upvalues, Upvalue → closed value.
// Strings and natives have no outgoing edges.
type Heap struct {
	objects Object
	strings Table
}

// NewHeap returns an empty heap.
func NewHeap() *Heap { return &Heap{} }

func (h *Heap) adopt(o Object) {
	o.header().next = h.objects
	h.objects = o
}

// Intern returns the unique String object for s, allocating and recording it
// on first use.
func (h *Heap) Intern(s string) *String {
	hash := HashString(s)
	if is := h.strings.FindString(s, hash); is != nil {
		return is
	}
	o := &String{str: s, hash: hash}
	h.adopt(o)
	h.strings.Set(o, Nil)
	return o
}

// NewFunction allocates an empty function object.
func (h *Heap) NewFunction() *Function {
	o := &Function{}
	h.adopt(o)
	return o
}

// NewNative allocates a native function object.
func (h *Heap) NewNative(fn NativeFn) *Native {
	o := &Native{Fn: fn}
	h.adopt(o)
	return o
}

// NewClosure allocates a closure over fn with room for its upvalues.
func (h *Heap) NewClosure(fn *Function) *Closure {
	o := &Closure{Fn: fn, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
	h.adopt(o)
	return o
}

// NewUpvalue allocates an open upvalue pointing at the given value-stack
// slot.
func (h *Heap) NewUpvalue(loc int) *Upvalue {
	o := &Upvalue{Loc: loc}
	h.adopt(o)
	return o
}

// objectCount walks the object list; used by tests.
func (h *Heap) objectCount() int {
	n := 0
	for o := h.objects; o != nil; o = o.header().next {
		n++
	}
	return n
}
