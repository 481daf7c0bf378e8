package bridge

import (
	stderrors "errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
	"github.com/wippyai/native-bridge/mutf8"
)

// ReleaseMode says what to do with a buffer handed back to the bridge.
type ReleaseMode int

const (
	// ReleaseDefault copies changes back and frees the buffer.
	ReleaseDefault ReleaseMode = 0
	// ReleaseCommit copies changes back and keeps the buffer.
	ReleaseCommit ReleaseMode = 1
	// ReleaseAbort frees the buffer without copying back.
	ReleaseAbort ReleaseMode = 2
)

// Valid reports whether m is one of the defined modes.
func (m ReleaseMode) Valid() bool {
	return m == ReleaseDefault || m == ReleaseCommit || m == ReleaseAbort
}

func (m ReleaseMode) String() string {
	switch m {
	case ReleaseDefault:
		return "0"
	case ReleaseCommit:
		return "COMMIT"
	case ReleaseAbort:
		return "ABORT"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// RefType is the kind of table a reference lives in.
type RefType int

const (
	RefInvalid RefType = iota
	RefLocal
	RefGlobal
	RefWeakGlobal
)

func (t RefType) String() string {
	switch t {
	case RefLocal:
		return "local"
	case RefGlobal:
		return "global"
	case RefWeakGlobal:
		return "weak-global"
	}
	return "invalid"
}

// Env is the call table handed to native code: one method per bridge
// operation. Each attached thread has its own Env, and an Env must only be
// used on the thread it belongs to. Object results are local references.
type Env interface {
	Thread() *ThreadContext
	GetVersion() uint32

	FindClass(name string) managed.Handle
	GetSuperclass(class managed.Handle) managed.Handle
	IsAssignableFrom(sub, super managed.Handle) bool
	GetObjectClass(obj managed.Handle) managed.Handle
	IsInstanceOf(obj, class managed.Handle) bool
	IsSameObject(a, b managed.Handle) bool
	AllocObject(class managed.Handle) managed.Handle
	GetMethodID(class managed.Handle, name, sig string) *managed.Method
	GetStaticMethodID(class managed.Handle, name, sig string) *managed.Method
	CallMethod(obj managed.Handle, m *managed.Method, args ...managed.Value) managed.Value
	CallNonvirtualMethod(obj managed.Handle, m *managed.Method, args ...managed.Value) managed.Value
	CallStaticMethod(class managed.Handle, m *managed.Method, args ...managed.Value) managed.Value

	NewLocalRef(ref managed.Handle) managed.Handle
	DeleteLocalRef(ref managed.Handle)
	NewGlobalRef(ref managed.Handle) managed.Handle
	DeleteGlobalRef(ref managed.Handle)
	NewWeakGlobalRef(ref managed.Handle) managed.Handle
	DeleteWeakGlobalRef(ref managed.Handle)
	GetObjectRefType(ref managed.Handle) RefType
	PushLocalFrame(capacity int) error
	PopLocalFrame(result managed.Handle) managed.Handle
	EnsureLocalCapacity(capacity int) error

	Throw(obj managed.Handle) error
	ThrowNew(class managed.Handle, msg string) error
	ExceptionOccurred() managed.Handle
	ExceptionCheck() bool
	ExceptionClear()
	FatalError(msg string)

	MonitorEnter(obj managed.Handle) error
	MonitorExit(obj managed.Handle) error

	NewString(chars []uint16) managed.Handle
	GetStringLength(s managed.Handle) int
	GetStringChars(s managed.Handle) []uint16
	ReleaseStringChars(s managed.Handle, chars []uint16)
	GetStringRegion(s managed.Handle, start, n int, buf []uint16)
	NewStringUTF(utf []byte) managed.Handle
	GetStringUTFLength(s managed.Handle) int
	GetStringUTFChars(s managed.Handle) []byte
	ReleaseStringUTFChars(s managed.Handle, utf []byte)
	GetStringCritical(s managed.Handle) []uint16
	ReleaseStringCritical(s managed.Handle, chars []uint16)

	GetArrayLength(arr managed.Handle) int
	NewPrimitiveArray(kind managed.Kind, n int) managed.Handle
	NewObjectArray(n int, elemClass, init managed.Handle) managed.Handle
	GetObjectArrayElement(arr managed.Handle, i int) managed.Handle
	SetObjectArrayElement(arr managed.Handle, i int, v managed.Handle)
	GetArrayElements(arr managed.Handle, kind managed.Kind) (elems []byte, isCopy bool)
	ReleaseArrayElements(arr managed.Handle, elems []byte, mode ReleaseMode)
	GetArrayRegion(arr managed.Handle, kind managed.Kind, start, n int, buf []byte)
	SetArrayRegion(arr managed.Handle, kind managed.Kind, start, n int, buf []byte)
	GetPrimitiveArrayCritical(arr managed.Handle) []byte
	ReleasePrimitiveArrayCritical(arr managed.Handle, elems []byte, mode ReleaseMode)

	RegisterNatives(class managed.Handle, methods []NativeMethod) error
	UnregisterNatives(class managed.Handle) error
}

// directEnv is the fast call table. It trusts native code: bad handles
// degrade to null results and unknown buffers are ignored, but nothing
// is validated or reported.
type directEnv struct {
	tc *ThreadContext
	b  *Bridge
}

func (e *directEnv) Thread() *ThreadContext { return e.tc }

func (e *directEnv) GetVersion() uint32 { return e.b.opts.Version }

func (e *directEnv) local(h managed.Handle) managed.Handle {
	r, err := e.tc.AddLocal(h)
	if err != nil {
		e.tc.throwOOM(err)
		return 0
	}
	return r
}

func (e *directEnv) classOf(h managed.Handle) *managed.Class {
	obj, ok := e.b.heap.Get(h)
	if !ok {
		return nil
	}
	co, ok := obj.(*managed.ClassObject)
	if !ok {
		return nil
	}
	return co.Target()
}

func (e *directEnv) arrayOf(h managed.Handle) *managed.Array {
	obj, _ := e.b.heap.Get(h)
	a, _ := obj.(*managed.Array)
	return a
}

func (e *directEnv) stringOf(h managed.Handle) *managed.String {
	obj, _ := e.b.heap.Get(h)
	s, _ := obj.(*managed.String)
	return s
}

// inBounds throws ArrayIndexOutOfBoundsException unless [start, start+n)
// lies within length.
func (e *directEnv) inBounds(start, n, length int) bool {
	if start < 0 || n < 0 || start > length || n > length-start {
		e.tc.ThrowNew(managed.BoundsError, errors.OutOfBounds(errors.PhaseCall, "", start, n, length).Detail)
		return false
	}
	return true
}

func (e *directEnv) FindClass(name string) managed.Handle {
	defer e.tc.Enter().Exit()
	c, ok := e.b.heap.FindClass(name)
	if !ok {
		e.tc.ThrowNew(managed.ClassNotFound, name)
		return 0
	}
	return e.local(c.Handle())
}

func (e *directEnv) GetSuperclass(class managed.Handle) managed.Handle {
	defer e.tc.Enter().Exit()
	c := e.classOf(class)
	if c == nil || c.Super() == nil {
		return 0
	}
	return e.local(c.Super().Handle())
}

func (e *directEnv) IsAssignableFrom(sub, super managed.Handle) bool {
	defer e.tc.Enter().Exit()
	return e.classOf(sub).IsAssignableTo(e.classOf(super))
}

func (e *directEnv) GetObjectClass(obj managed.Handle) managed.Handle {
	defer e.tc.Enter().Exit()
	c, ok := e.b.heap.ClassOf(obj)
	if !ok {
		return 0
	}
	return e.local(c.Handle())
}

func (e *directEnv) IsInstanceOf(obj, class managed.Handle) bool {
	defer e.tc.Enter().Exit()
	if obj == 0 {
		return true
	}
	c, ok := e.b.heap.ClassOf(obj)
	return ok && c.IsAssignableTo(e.classOf(class))
}

func (e *directEnv) IsSameObject(a, b managed.Handle) bool {
	return a == b
}

func (e *directEnv) AllocObject(class managed.Handle) managed.Handle {
	defer e.tc.Enter().Exit()
	h, err := e.b.heap.New(e.classOf(class))
	if err != nil {
		e.tc.ThrowNew(managed.RuntimeError, err.Error())
		return 0
	}
	return e.local(h)
}

func (e *directEnv) GetMethodID(class managed.Handle, name, sig string) *managed.Method {
	defer e.tc.Enter().Exit()
	return e.methodID(class, name, sig, false)
}

func (e *directEnv) GetStaticMethodID(class managed.Handle, name, sig string) *managed.Method {
	defer e.tc.Enter().Exit()
	return e.methodID(class, name, sig, true)
}

func (e *directEnv) methodID(class managed.Handle, name, sig string, static bool) *managed.Method {
	c := e.classOf(class)
	if c == nil {
		e.tc.ThrowNew(managed.RuntimeError, "method lookup on a non-class")
		return nil
	}
	m, ok := c.Method(name, sig)
	if !ok || m.Static != static {
		e.tc.ThrowNew(managed.NoSuchMethod, c.Name()+"."+name+sig)
		return nil
	}
	return m
}

func (e *directEnv) CallMethod(obj managed.Handle, m *managed.Method, args ...managed.Value) managed.Value {
	defer e.tc.Enter().Exit()
	return e.callMethod(obj, m, args, true)
}

func (e *directEnv) CallNonvirtualMethod(obj managed.Handle, m *managed.Method, args ...managed.Value) managed.Value {
	defer e.tc.Enter().Exit()
	return e.callMethod(obj, m, args, false)
}

func (e *directEnv) CallStaticMethod(class managed.Handle, m *managed.Method, args ...managed.Value) managed.Value {
	defer e.tc.Enter().Exit()
	return e.callMethod(class, m, args, false)
}

func (e *directEnv) callMethod(this managed.Handle, m *managed.Method, args []managed.Value, virtual bool) managed.Value {
	if m == nil {
		e.tc.ThrowNew(managed.RuntimeError, "call through null method")
		return managed.VoidValue()
	}
	target := m
	if virtual && !m.Static {
		if c, ok := e.b.heap.ClassOf(this); ok {
			if override, ok := c.Method(m.Name, m.Signature); ok {
				target = override
			}
		}
	}

	var ret managed.Value
	switch {
	case target.Native:
		v, err := e.b.Invoke(e.tc, target, this, args...)
		if err != nil {
			if !e.tc.ExceptionCheck() {
				e.tc.ThrowNew(managed.RuntimeError, err.Error())
			}
			return managed.VoidValue()
		}
		ret = v
	case target.Body != nil:
		v, err := target.Body(this, args)
		if err != nil {
			var ex *managed.Exception
			if stderrors.As(err, &ex) {
				e.tc.Throw(ex.Object)
			} else {
				e.tc.ThrowNew(managed.RuntimeError, err.Error())
			}
			return managed.VoidValue()
		}
		ret = v
	default:
		e.tc.ThrowNew(managed.RuntimeError, "abstract method "+target.String())
		return managed.VoidValue()
	}

	if ret.IsReference() {
		return managed.RefValue(e.local(ret.Ref()))
	}
	return ret
}

func (e *directEnv) NewLocalRef(ref managed.Handle) managed.Handle {
	defer e.tc.Enter().Exit()
	return e.local(ref)
}

func (e *directEnv) DeleteLocalRef(ref managed.Handle) {
	defer e.tc.Enter().Exit()
	if ref != 0 && !e.tc.DeleteLocal(ref) {
		e.b.log.Warn("DeleteLocalRef: reference not found in current frame",
			zap.Int("thread", e.tc.tid), zap.Stringer("handle", ref))
	}
}

func (e *directEnv) NewGlobalRef(ref managed.Handle) managed.Handle {
	defer e.tc.Enter().Exit()
	return e.b.AddGlobal(ref)
}

func (e *directEnv) DeleteGlobalRef(ref managed.Handle) {
	defer e.tc.Enter().Exit()
	if !e.b.DeleteGlobal(ref) {
		e.b.log.Warn("DeleteGlobalRef: reference not found in global table",
			zap.Int("thread", e.tc.tid), zap.Stringer("handle", ref))
	}
}

func (e *directEnv) NewWeakGlobalRef(ref managed.Handle) managed.Handle {
	defer e.tc.Enter().Exit()
	err := errors.Unsupported(errors.PhaseGlobal, "weak global references are not supported")
	err.Op = "NewWeakGlobalRef"
	err.Handle = uint64(ref)
	e.b.report(e.tc, err)
	return 0
}

func (e *directEnv) DeleteWeakGlobalRef(ref managed.Handle) {
	if ref == 0 {
		return
	}
	defer e.tc.Enter().Exit()
	err := errors.Unsupported(errors.PhaseGlobal, "weak global references are not supported")
	err.Op = "DeleteWeakGlobalRef"
	err.Handle = uint64(ref)
	e.b.report(e.tc, err)
}

func (e *directEnv) GetObjectRefType(ref managed.Handle) RefType {
	defer e.tc.Enter().Exit()
	switch {
	case ref == 0:
		return RefInvalid
	case e.tc.IsLocal(ref):
		return RefLocal
	case e.b.IsGlobal(ref):
		return RefGlobal
	}
	return RefInvalid
}

func (e *directEnv) PushLocalFrame(capacity int) error {
	defer e.tc.Enter().Exit()
	if err := e.tc.PushFrame(capacity); err != nil {
		e.tc.throwOOM(err)
		return err
	}
	return nil
}

func (e *directEnv) PopLocalFrame(result managed.Handle) managed.Handle {
	defer e.tc.Enter().Exit()
	return e.tc.PopFrame(result)
}

func (e *directEnv) EnsureLocalCapacity(capacity int) error {
	defer e.tc.Enter().Exit()
	if err := e.tc.EnsureCapacity(capacity); err != nil {
		e.tc.throwOOM(err)
		return err
	}
	return nil
}

func (e *directEnv) Throw(obj managed.Handle) error {
	defer e.tc.Enter().Exit()
	if obj == 0 {
		return errors.InvalidInput(errors.PhaseCall, "Throw: null exception")
	}
	e.tc.Throw(obj)
	return nil
}

func (e *directEnv) ThrowNew(class managed.Handle, msg string) error {
	defer e.tc.Enter().Exit()
	c := e.classOf(class)
	if c == nil {
		return errors.InvalidInput(errors.PhaseCall, "ThrowNew: not a class")
	}
	e.tc.Throw(e.b.heap.NewThrowable(c, msg))
	return nil
}

func (e *directEnv) ExceptionOccurred() managed.Handle {
	defer e.tc.Enter().Exit()
	return e.local(e.tc.pending)
}

func (e *directEnv) ExceptionCheck() bool { return e.tc.ExceptionCheck() }

func (e *directEnv) ExceptionClear() { e.tc.ExceptionClear() }

func (e *directEnv) FatalError(msg string) {
	e.b.fatal(errors.New(errors.PhaseCall, errors.KindNativeAbort).
		Class(errors.ClassIntegrity).
		Op("FatalError").
		Thread(e.tc.tid).
		Detail("%s", msg).
		Build())
}

func (e *directEnv) MonitorEnter(obj managed.Handle) error {
	defer e.tc.Enter().Exit()
	return e.tc.MonitorEnter(obj)
}

func (e *directEnv) MonitorExit(obj managed.Handle) error {
	defer e.tc.Enter().Exit()
	if err := e.tc.MonitorExit(obj); err != nil {
		e.tc.ThrowNew(managed.MonitorError, err.Error())
		return err
	}
	return nil
}

func (e *directEnv) NewString(chars []uint16) managed.Handle {
	defer e.tc.Enter().Exit()
	return e.local(e.b.heap.NewString(chars))
}

func (e *directEnv) GetStringLength(s managed.Handle) int {
	defer e.tc.Enter().Exit()
	if str := e.stringOf(s); str != nil {
		return str.Len()
	}
	return 0
}

func (e *directEnv) GetStringChars(s managed.Handle) []uint16 {
	defer e.tc.Enter().Exit()
	str := e.stringOf(s)
	if str == nil {
		return nil
	}
	e.tc.pin(s)
	return str.Chars()
}

func (e *directEnv) ReleaseStringChars(s managed.Handle, _ []uint16) {
	defer e.tc.Enter().Exit()
	e.tc.unpin(s)
}

func (e *directEnv) GetStringRegion(s managed.Handle, start, n int, buf []uint16) {
	defer e.tc.Enter().Exit()
	str := e.stringOf(s)
	if str == nil || !e.inBounds(start, n, str.Len()) {
		return
	}
	copy(buf, str.Chars()[start:start+n])
}

func (e *directEnv) NewStringUTF(utf []byte) managed.Handle {
	defer e.tc.Enter().Exit()
	chars, err := mutf8.Decode(utf)
	if err != nil {
		e.tc.ThrowNew(managed.RuntimeError, err.Error())
		return 0
	}
	return e.local(e.b.heap.NewString(chars))
}

func (e *directEnv) GetStringUTFLength(s managed.Handle) int {
	defer e.tc.Enter().Exit()
	if str := e.stringOf(s); str != nil {
		return mutf8.EncodedLen(str.Chars())
	}
	return 0
}

func (e *directEnv) GetStringUTFChars(s managed.Handle) []byte {
	defer e.tc.Enter().Exit()
	str := e.stringOf(s)
	if str == nil {
		return nil
	}
	return mutf8.Encode(str.Chars())
}

func (e *directEnv) ReleaseStringUTFChars(managed.Handle, []byte) {}

func (e *directEnv) GetStringCritical(s managed.Handle) []uint16 {
	defer e.tc.Enter().Exit()
	str := e.stringOf(s)
	if str == nil {
		return nil
	}
	e.tc.EnterCritical()
	e.tc.pin(s)
	return str.Chars()
}

func (e *directEnv) ReleaseStringCritical(s managed.Handle, _ []uint16) {
	defer e.tc.Enter().Exit()
	e.tc.unpin(s)
	e.tc.ExitCritical()
}

func (e *directEnv) GetArrayLength(arr managed.Handle) int {
	defer e.tc.Enter().Exit()
	if a := e.arrayOf(arr); a != nil {
		return a.Len()
	}
	return 0
}

func (e *directEnv) NewPrimitiveArray(kind managed.Kind, n int) managed.Handle {
	defer e.tc.Enter().Exit()
	c, ok := e.b.heap.ArrayClassOf(kind)
	if !ok {
		e.tc.ThrowNew(managed.RuntimeError, "no array class for "+kind.String())
		return 0
	}
	h, err := e.b.heap.NewArray(c, n)
	if err != nil {
		e.tc.ThrowNew(managed.RuntimeError, err.Error())
		return 0
	}
	return e.local(h)
}

func (e *directEnv) NewObjectArray(n int, elemClass, init managed.Handle) managed.Handle {
	defer e.tc.Enter().Exit()
	elem := e.classOf(elemClass)
	if elem == nil {
		e.tc.ThrowNew(managed.RuntimeError, "NewObjectArray: not a class")
		return 0
	}
	c, ok := e.b.heap.FindClass("[" + elem.Descriptor())
	if !ok {
		e.tc.ThrowNew(managed.ClassNotFound, "["+elem.Descriptor())
		return 0
	}
	h, err := e.b.heap.NewArray(c, n)
	if err != nil {
		e.tc.ThrowNew(managed.RuntimeError, err.Error())
		return 0
	}
	if init != 0 {
		refs := e.arrayOf(h).Refs()
		for i := range refs {
			refs[i] = init
		}
	}
	return e.local(h)
}

func (e *directEnv) GetObjectArrayElement(arr managed.Handle, i int) managed.Handle {
	defer e.tc.Enter().Exit()
	a := e.arrayOf(arr)
	if a == nil || !e.inBounds(i, 1, len(a.Refs())) {
		return 0
	}
	return e.local(a.Refs()[i])
}

func (e *directEnv) SetObjectArrayElement(arr managed.Handle, i int, v managed.Handle) {
	defer e.tc.Enter().Exit()
	a := e.arrayOf(arr)
	if a == nil || !e.inBounds(i, 1, len(a.Refs())) {
		return
	}
	if v != 0 {
		vc, ok := e.b.heap.ClassOf(v)
		if !ok || !vc.IsAssignableTo(a.Class().Component()) {
			e.tc.ThrowNew(managed.ArrayStoreError, "cannot store into "+a.Class().Name())
			return
		}
	}
	a.Refs()[i] = v
}

func (e *directEnv) GetArrayElements(arr managed.Handle, _ managed.Kind) ([]byte, bool) {
	defer e.tc.Enter().Exit()
	a := e.arrayOf(arr)
	if a == nil {
		return nil, false
	}
	e.tc.pin(arr)
	return a.Bytes(), false
}

func (e *directEnv) ReleaseArrayElements(arr managed.Handle, _ []byte, mode ReleaseMode) {
	defer e.tc.Enter().Exit()
	if mode != ReleaseCommit {
		e.tc.unpin(arr)
	}
}

func (e *directEnv) GetArrayRegion(arr managed.Handle, _ managed.Kind, start, n int, buf []byte) {
	defer e.tc.Enter().Exit()
	a := e.arrayOf(arr)
	if a == nil || !e.inBounds(start, n, a.Len()) {
		return
	}
	w := a.Kind().Width()
	copy(buf, a.Bytes()[start*w:(start+n)*w])
}

func (e *directEnv) SetArrayRegion(arr managed.Handle, _ managed.Kind, start, n int, buf []byte) {
	defer e.tc.Enter().Exit()
	a := e.arrayOf(arr)
	if a == nil || !e.inBounds(start, n, a.Len()) {
		return
	}
	w := a.Kind().Width()
	copy(a.Bytes()[start*w:(start+n)*w], buf)
}

func (e *directEnv) GetPrimitiveArrayCritical(arr managed.Handle) []byte {
	defer e.tc.Enter().Exit()
	a := e.arrayOf(arr)
	if a == nil {
		return nil
	}
	e.tc.EnterCritical()
	e.tc.pin(arr)
	return a.Bytes()
}

func (e *directEnv) ReleasePrimitiveArrayCritical(arr managed.Handle, _ []byte, _ ReleaseMode) {
	defer e.tc.Enter().Exit()
	e.tc.unpin(arr)
	e.tc.ExitCritical()
}

func (e *directEnv) RegisterNatives(class managed.Handle, methods []NativeMethod) error {
	defer e.tc.Enter().Exit()
	c := e.classOf(class)
	if c == nil {
		return errors.InvalidInput(errors.PhaseCall, "RegisterNatives: not a class")
	}
	if err := e.b.RegisterNatives(c, methods); err != nil {
		e.tc.ThrowNew(managed.NoSuchMethod, asError(err).Detail)
		return err
	}
	return nil
}

func (e *directEnv) UnregisterNatives(class managed.Handle) error {
	defer e.tc.Enter().Exit()
	c := e.classOf(class)
	if c == nil {
		return errors.InvalidInput(errors.PhaseCall, "UnregisterNatives: not a class")
	}
	e.b.UnregisterNatives(c)
	return nil
}
