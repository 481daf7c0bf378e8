// Package managed is the managed-runtime collaborator the bridge runs against.
//
// It provides just enough of a managed object world for the bridge core to
// be exercised: classes with single inheritance, plain instances, strings,
// primitive and reference arrays, object monitors, and a mark-sweep collector
// driven by externally supplied roots. It does not model fields, class
// loading or a real garbage collector.
package managed

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/native-bridge/errors"
)

// Object is anything stored on the heap.
type Object interface {
	Class() *Class
}

// Instance is a plain object of a non-array class.
type Instance struct {
	class *Class
}

// Class returns the object's class.
func (o *Instance) Class() *Class { return o.class }

// String is a managed string stored as UTF-16 code units.
type String struct {
	class *Class
	chars []uint16
}

// Class returns java/lang/String.
func (s *String) Class() *Class { return s.class }

// Chars returns the string's code units. The slice aliases heap storage.
func (s *String) Chars() []uint16 { return s.chars }

// Len returns the length in code units.
func (s *String) Len() int { return len(s.chars) }

// Array is a managed array. Primitive elements live in word-aligned storage
// so typed views can be taken without copying.
type Array struct {
	class  *Class
	words  []uint64
	refs   []Handle
	length int
}

// Class returns the array class.
func (a *Array) Class() *Class { return a.class }

// Len returns the element count.
func (a *Array) Len() int { return a.length }

// Kind returns the element kind.
func (a *Array) Kind() Kind { return a.class.elem }

// Bytes returns the raw element storage of a primitive array.
// The slice aliases heap storage.
func (a *Array) Bytes() []byte {
	n := a.length * a.class.elem.Width()
	if n == 0 || a.class.elem == Reference {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&a.words[0])), n)
}

// Refs returns the elements of a reference array.
func (a *Array) Refs() []Handle { return a.refs }

// Elements returns a typed view of a primitive array's storage.
func Elements[T Primitive](a *Array) ([]T, bool) {
	if a.class.elem != KindOf[T]() {
		return nil, false
	}
	if a.length == 0 {
		return []T{}, true
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&a.words[0])), a.length), true
}

// Exception is returned by method bodies to throw a managed exception.
type Exception struct {
	Object Handle
	Msg    string
}

func (e *Exception) Error() string {
	return fmt.Sprintf("managed exception %s: %s", e.Object, e.Msg)
}

// Throwable is an instance of a throwable class with a message.
type Throwable struct {
	class   *Class
	Message string
}

// Class returns the throwable's class.
func (t *Throwable) Class() *Class { return t.class }

// Heap owns every managed object and class.
type Heap struct {
	objects  map[Handle]Object
	classes  map[string]*Class
	monitors map[Handle]*monitor
	monCond  *sync.Cond
	next     atomic.Uint64
	mu       sync.RWMutex
	monMu    sync.Mutex

	objectClass *Class
	classClass  *Class
	stringClass *Class
}

// NewHeap creates a heap with the bootstrap classes defined.
func NewHeap() *Heap {
	h := &Heap{
		objects:  make(map[Handle]Object),
		classes:  make(map[string]*Class),
		monitors: make(map[Handle]*monitor),
	}
	h.monCond = sync.NewCond(&h.monMu)
	h.next.Store(0x1000)

	h.objectClass = h.DefineClass(ObjectClass, nil)
	h.classClass = h.DefineClass(ClassClass, h.objectClass)
	h.stringClass = h.DefineClass(StringClass, h.objectClass)
	if obj, ok := h.objects[h.objectClass.handle].(*ClassObject); ok {
		obj.meta = h.classClass
	}
	throwable := h.DefineClass(ThrowableClass, h.objectClass)
	runtimeErr := h.DefineClass(RuntimeError, throwable)
	for _, name := range []string{BoundsError, MonitorError, ArrayStoreError} {
		h.DefineClass(name, runtimeErr)
	}
	for _, name := range []string{OOMError, LinkError, ClassNotFound, NoSuchMethod} {
		h.DefineClass(name, throwable)
	}
	return h
}

func (h *Heap) alloc(obj Object) Handle {
	// Handles are 8-aligned so the low bits stay free for native tagging.
	id := Handle(h.next.Add(8))
	h.mu.Lock()
	h.objects[id] = obj
	h.mu.Unlock()
	return id
}

// DefineClass creates and registers a class. Redefining a name returns the existing class.
func (h *Heap) DefineClass(name string, super *Class) *Class {
	return h.define(name, super, 0, nil)
}

func (h *Heap) define(name string, super *Class, elem Kind, component *Class) *Class {
	h.mu.Lock()
	if c, ok := h.classes[name]; ok {
		h.mu.Unlock()
		return c
	}
	if super == nil && name != ObjectClass {
		super = h.objectClass
	}
	c := &Class{name: name, super: super, elem: elem, component: component}
	meta := h.classClass
	if name == ClassClass {
		meta = c
	}
	h.classes[name] = c
	h.mu.Unlock()

	c.handle = h.alloc(&ClassObject{target: c, meta: meta})
	return c
}

// FindClass resolves a class by internal name. Array descriptors are
// created on demand.
func (h *Heap) FindClass(name string) (*Class, bool) {
	h.mu.RLock()
	c, ok := h.classes[name]
	h.mu.RUnlock()
	if ok {
		return c, true
	}
	if len(name) > 1 && name[0] == '[' {
		return h.arrayClass(name)
	}
	return nil, false
}

func (h *Heap) arrayClass(name string) (*Class, bool) {
	desc := name[1:]
	var component *Class
	elem := Kind(desc[0])
	switch {
	case elem == Reference && len(desc) > 2 && desc[len(desc)-1] == ';':
		c, ok := h.FindClass(desc[1 : len(desc)-1])
		if !ok {
			return nil, false
		}
		component = c
	case elem == '[':
		c, ok := h.FindClass(desc)
		if !ok {
			return nil, false
		}
		component = c
		elem = Reference
	case elem.IsPrimitive() && len(desc) == 1:
	default:
		return nil, false
	}

	return h.define(name, h.objectClass, elem, component), true
}

// ArrayClassOf returns the array class with the given primitive element kind.
func (h *Heap) ArrayClassOf(elem Kind) (*Class, bool) {
	return h.FindClass("[" + string(rune(elem)))
}

// Get returns the object for a handle.
func (h *Heap) Get(ref Handle) (Object, bool) {
	if ref == 0 {
		return nil, false
	}
	h.mu.RLock()
	obj, ok := h.objects[ref]
	h.mu.RUnlock()
	return obj, ok
}

// ClassOf returns the class of the object behind ref.
func (h *Heap) ClassOf(ref Handle) (*Class, bool) {
	obj, ok := h.Get(ref)
	if !ok {
		return nil, false
	}
	return obj.Class(), true
}

// Live reports whether ref names an object on the heap.
func (h *Heap) Live(ref Handle) bool {
	_, ok := h.Get(ref)
	return ok
}

// New allocates a plain instance of c.
func (h *Heap) New(c *Class) (Handle, error) {
	if c == nil {
		return 0, allocError("AllocObject", "nil class")
	}
	if c.IsArray() {
		return 0, allocError("AllocObject", c.name+" is an array class")
	}
	return h.alloc(&Instance{class: c}), nil
}

// NewThrowable allocates an instance of a throwable class carrying msg.
func (h *Heap) NewThrowable(c *Class, msg string) Handle {
	return h.alloc(&Throwable{class: c, Message: msg})
}

// NewString allocates a string holding a copy of chars.
func (h *Heap) NewString(chars []uint16) Handle {
	return h.alloc(&String{class: h.stringClass, chars: append([]uint16(nil), chars...)})
}

// NewArray allocates a zeroed array of class c with n elements.
func (h *Heap) NewArray(c *Class, n int) (Handle, error) {
	if c == nil || !c.IsArray() {
		return 0, allocError("NewArray", "not an array class")
	}
	if n < 0 {
		return 0, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Op("NewArray").
			Value(n).
			Detail("negative array size %d", n).
			Build()
	}
	a := &Array{class: c, length: n}
	if c.elem == Reference {
		a.refs = make([]Handle, n)
	} else {
		a.words = make([]uint64, (n*c.elem.Width()+7)/8)
	}
	return h.alloc(a), nil
}

func allocError(op, why string) *errors.Error {
	return errors.New(errors.PhaseCall, errors.KindInvalidInput).
		Op(op).
		Detail("allocate: %s", why).
		Build()
}

// Len returns the number of objects on the heap, classes included.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects)
}

// Collect frees every object not reachable from the roots. Each root
// function is called with a visitor to report its handles. Class objects
// are never collected. It returns the number of objects freed.
func (h *Heap) Collect(roots ...func(visit func(Handle))) int {
	marked := make(map[Handle]struct{})
	var stack []Handle
	visit := func(ref Handle) {
		if ref == 0 {
			return
		}
		if _, seen := marked[ref]; seen {
			return
		}
		marked[ref] = struct{}{}
		stack = append(stack, ref)
	}
	for _, root := range roots {
		root(visit)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if a, ok := h.objects[ref].(*Array); ok {
			for _, e := range a.refs {
				visit(e)
			}
		}
	}

	freed := 0
	for ref, obj := range h.objects {
		if _, ok := obj.(*ClassObject); ok {
			continue
		}
		if _, ok := marked[ref]; !ok {
			delete(h.objects, ref)
			freed++
		}
	}
	return freed
}
