package managed

import (
	"strings"
	"sync"
)

// Well-known class names.
const (
	ObjectClass     = "java/lang/Object"
	ClassClass      = "java/lang/Class"
	StringClass     = "java/lang/String"
	ThrowableClass  = "java/lang/Throwable"
	RuntimeError    = "java/lang/RuntimeException"
	OOMError        = "java/lang/OutOfMemoryError"
	LinkError       = "java/lang/UnsatisfiedLinkError"
	BoundsError     = "java/lang/ArrayIndexOutOfBoundsException"
	MonitorError    = "java/lang/IllegalMonitorStateException"
	ArrayStoreError = "java/lang/ArrayStoreException"
	ClassNotFound   = "java/lang/NoClassDefFoundError"
	NoSuchMethod    = "java/lang/NoSuchMethodError"
)

// Body implements a managed (non-native) method. Returning an *Exception
// leaves that exception pending on the calling thread.
type Body func(this Handle, args []Value) (Value, error)

// Method describes a method declared on a class.
type Method struct {
	Class        *Class
	Body         Body
	Name         string
	Signature    string
	Static       bool
	Native       bool
	Synchronized bool
}

// Key returns the lookup key of the method within its class.
func (m *Method) Key() string {
	return m.Name + m.Signature
}

func (m *Method) String() string {
	return m.Class.Name() + "." + m.Name + m.Signature
}

// Class is a managed type. Array classes carry a component class or an
// element kind.
type Class struct {
	super     *Class
	component *Class
	methods   map[string]*Method
	name      string
	handle    Handle
	mu        sync.RWMutex
	elem      Kind
}

// Name returns the internal name, e.g. "java/lang/String" or "[B".
func (c *Class) Name() string { return c.name }

// Super returns the superclass, nil for the root class.
func (c *Class) Super() *Class { return c.super }

// Handle returns the handle of the class object.
func (c *Class) Handle() Handle { return c.handle }

// IsArray reports whether c is an array class.
func (c *Class) IsArray() bool { return strings.HasPrefix(c.name, "[") }

// ElemKind returns the element kind of an array class.
func (c *Class) ElemKind() Kind { return c.elem }

// Component returns the component class of a reference array class.
func (c *Class) Component() *Class { return c.component }

// Descriptor returns the type descriptor, e.g. "Ljava/lang/String;".
func (c *Class) Descriptor() string {
	if c.IsArray() {
		return c.name
	}
	return "L" + c.name + ";"
}

// IsAssignableTo reports whether a value of c can be stored in a slot of type target.
func (c *Class) IsAssignableTo(target *Class) bool {
	if c == nil || target == nil {
		return false
	}
	if target.name == ObjectClass {
		return true
	}
	if c.IsArray() {
		if !target.IsArray() {
			return false
		}
		if c.elem != Reference || target.elem != Reference {
			return c.elem == target.elem
		}
		return c.component.IsAssignableTo(target.component)
	}
	for k := c; k != nil; k = k.super {
		if k == target {
			return true
		}
	}
	return false
}

// Define adds a method to the class, replacing one with the same name and signature.
func (c *Class) Define(m *Method) *Method {
	m.Class = c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.methods == nil {
		c.methods = make(map[string]*Method)
	}
	c.methods[m.Key()] = m
	return m
}

// Method finds a method by name and signature, searching superclasses.
func (c *Class) Method(name, sig string) (*Method, bool) {
	for k := c; k != nil; k = k.super {
		k.mu.RLock()
		m, ok := k.methods[name+sig]
		k.mu.RUnlock()
		if ok {
			return m, true
		}
	}
	return nil, false
}

// Methods returns the methods declared directly on c.
func (c *Class) Methods() []*Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Method, 0, len(c.methods))
	for _, m := range c.methods {
		out = append(out, m)
	}
	return out
}

// ClassObject is the managed object standing for a class.
type ClassObject struct {
	target *Class
	meta   *Class
}

// Class returns java/lang/Class.
func (o *ClassObject) Class() *Class { return o.meta }

// Target returns the class the object stands for.
func (o *ClassObject) Target() *Class { return o.target }
