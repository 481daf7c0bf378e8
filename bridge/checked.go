package bridge

import (
	"strings"
	"unsafe"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/guard"
	"github.com/wippyai/native-bridge/managed"
	"github.com/wippyai/native-bridge/mutf8"
)

// checkFlags relax the entry checks for a call.
type checkFlags uint8

const (
	// critOkay allows the call inside a critical section.
	critOkay checkFlags = 1 << iota
	// excepOkay allows the call with an exception pending.
	excepOkay
)

// guardedBuffer is a guarded copy handed to native code and not yet released.
type guardedBuffer struct {
	copy    *guard.Copy
	op      string
	obj     managed.Handle
	modOkay bool
}

func (tc *ThreadContext) trackGuard(g *guardedBuffer) {
	if tc.guards == nil {
		tc.guards = make(map[unsafe.Pointer]*guardedBuffer)
	}
	tc.guards[bufferKey(g.copy.Bytes())] = g
}

// OutstandingBuffers returns the number of guarded buffers not yet released.
func (tc *ThreadContext) OutstandingBuffers() int { return len(tc.guards) }

func (tc *ThreadContext) hasPin(h managed.Handle) bool {
	for _, p := range tc.pins {
		if p == h {
			return true
		}
	}
	return false
}

// checkedEnv is the validating call table. Every entry checks the calling
// thread, critical and exception state, then its arguments, reports
// failures through the policy and forwards to the direct table. Buffers
// handed to native code are guarded copies verified on release.
type checkedEnv struct {
	direct *directEnv
	tc     *ThreadContext
	b      *Bridge
}

func (c *checkedEnv) fail(err *errors.Error) {
	c.b.report(c.tc, err)
}

func (c *checkedEnv) begin(op string, flags checkFlags) Token {
	tok := c.tc.Enter()
	if tid := osThreadID(); tid != c.tc.tid {
		c.fail(errors.New(errors.PhaseCheck, errors.KindWrongThread).
			Op(op).
			Thread(tid).
			Detail("call table of thread %d used on thread %d", c.tc.tid, tid).
			Build())
	}
	if !c.tc.Attached() {
		c.fail(errors.New(errors.PhaseCheck, errors.KindNotAttached).
			Op(op).
			Detail("call table of detached thread %d used", c.tc.tid).
			Build())
	}
	if flags&critOkay == 0 && c.tc.InCritical() {
		c.fail(errors.New(errors.PhaseCheck, errors.KindCriticalViolation).
			Op(op).
			Detail("called with %d critical sections held", c.tc.CriticalDepth()).
			Build())
	}
	if flags&excepOkay == 0 && c.tc.ExceptionCheck() {
		c.fail(errors.New(errors.PhaseCheck, errors.KindPendingException).
			Op(op).
			Handle(uint64(c.tc.pending)).
			Detail("called with exception %s pending", c.typeName(c.tc.pending)).
			Build())
	}
	return tok
}

func (c *checkedEnv) typeName(h managed.Handle) string {
	cls, ok := c.b.heap.ClassOf(h)
	if !ok {
		return "(stale " + h.String() + ")"
	}
	return cls.Name()
}

// checkRef verifies h is null (when allowed) or a live local or global
// reference of this thread.
func (c *checkedEnv) checkRef(op string, h managed.Handle, nullable bool) bool {
	if h == 0 {
		if !nullable {
			c.fail(errors.InvalidRef(op, 0, "null reference"))
		}
		return nullable
	}
	if !c.tc.IsLocal(h) && !c.b.IsGlobal(h) {
		c.fail(errors.InvalidRef(op, uint64(h), "not a valid local or global reference"))
		return false
	}
	if !c.b.heap.Live(h) {
		c.fail(errors.InvalidRef(op, uint64(h), "reference to a collected object"))
		return false
	}
	return true
}

func (c *checkedEnv) mismatch(op string, h managed.Handle, declared string) {
	err := errors.TypeMismatch(errors.PhaseCheck, op, declared, c.typeName(h))
	err.Handle = uint64(h)
	c.fail(err)
}

func (c *checkedEnv) checkClass(op string, h managed.Handle) *managed.Class {
	if !c.checkRef(op, h, false) {
		return nil
	}
	cls := c.direct.classOf(h)
	if cls == nil {
		c.mismatch(op, h, managed.ClassClass)
	}
	return cls
}

func (c *checkedEnv) checkString(op string, h managed.Handle) *managed.String {
	if !c.checkRef(op, h, false) {
		return nil
	}
	s := c.direct.stringOf(h)
	if s == nil {
		c.mismatch(op, h, managed.StringClass)
	}
	return s
}

// checkArray verifies h is an array. kind 0 accepts any array; Reference
// requires an object array; a primitive kind requires that element kind.
func (c *checkedEnv) checkArray(op string, h managed.Handle, kind managed.Kind) *managed.Array {
	if !c.checkRef(op, h, false) {
		return nil
	}
	a := c.direct.arrayOf(h)
	switch {
	case a == nil:
		c.mismatch(op, h, "array")
		return nil
	case kind != 0 && a.Kind() != kind:
		c.mismatch(op, h, "array of "+kind.String())
	}
	return a
}

func (c *checkedEnv) checkMode(op string, mode ReleaseMode) {
	if !mode.Valid() {
		c.fail(errors.New(errors.PhaseCheck, errors.KindBadReleaseMode).
			Op(op).
			Value(int(mode)).
			Detail("unknown release mode %d", int(mode)).
			Build())
	}
}

func (c *checkedEnv) checkRegion(op string, start, n, length, have, width int) {
	if start < 0 || n < 0 || start > length || n > length-start {
		err := errors.OutOfBounds(errors.PhaseCheck, op, start, n, length)
		c.fail(err)
		return
	}
	if have < n*width {
		c.fail(errors.New(errors.PhaseCheck, errors.KindOutOfBounds).
			Op(op).
			Detail("buffer holds %d bytes, region needs %d", have, n*width).
			Build())
	}
}

func (c *checkedEnv) checkNonNegative(op, what string, n int) {
	if n < 0 {
		c.fail(errors.New(errors.PhaseCheck, errors.KindInvalidInput).
			Op(op).
			Value(n).
			Detail("negative %s %d", what, n).
			Build())
	}
}

// checkCall verifies a method call: static-ness, argument count and kinds,
// reference arguments and the receiver's class.
func (c *checkedEnv) checkCall(op string, recv managed.Handle, m *managed.Method, static bool, args []managed.Value) {
	if m == nil {
		c.fail(errors.New(errors.PhaseCheck, errors.KindInvalidInput).Op(op).Detail("null method").Build())
		return
	}
	if m.Static != static {
		want, got := "instance method", "static method"
		if static {
			want, got = got, want
		}
		c.fail(errors.TypeMismatch(errors.PhaseCheck, op, want, got+" "+m.String()))
	}
	sig, err := ParseSignature(m.Signature)
	if err != nil {
		c.fail(asError(err))
		return
	}
	if _, err := MarshalArgs(sig.Shorty(), recv, args); err != nil {
		be := asError(err)
		be.Phase = errors.PhaseCheck
		be.Op = op
		c.fail(be)
		return
	}
	for i, a := range args {
		if !a.IsReference() || !c.checkRef(op, a.Ref(), true) || a.Ref() == 0 {
			continue
		}
		if want, ok := c.b.heap.FindClass(sig.Params[i].Class); ok {
			if got, _ := c.b.heap.ClassOf(a.Ref()); !got.IsAssignableTo(want) {
				c.mismatch(op, a.Ref(), sig.Params[i].Class)
			}
		}
	}

	if static {
		if cls := c.checkClass(op, recv); cls != nil && !cls.IsAssignableTo(m.Class) {
			c.mismatch(op, recv, "class "+m.Class.Name())
		}
		return
	}
	if c.checkRef(op, recv, false) {
		if got, _ := c.b.heap.ClassOf(recv); !got.IsAssignableTo(m.Class) {
			c.mismatch(op, recv, m.Class.Name())
		}
	}
}

// releaseGuard verifies and retires the guarded copy behind buf.
func (c *checkedEnv) releaseGuard(op string, obj managed.Handle, buf []byte, mode ReleaseMode) *guardedBuffer {
	key := bufferKey(buf)
	g := c.tc.guards[key]
	if g == nil {
		c.fail(errors.New(errors.PhaseCheck, errors.KindInvalidInput).
			Op(op).
			Handle(uint64(obj)).
			Detail("buffer was not handed out by a matching get on this thread").
			Build())
		return nil
	}
	if g.obj != obj {
		c.fail(errors.InvalidRef(op, uint64(obj), "buffer belongs to "+g.obj.String()))
	}
	if err := g.copy.Check(op, g.modOkay); err != nil {
		be := asError(err)
		be.Handle = uint64(obj)
		c.fail(be)
	}
	if mode != ReleaseAbort {
		g.copy.Commit()
	}
	if mode != ReleaseCommit {
		g.copy.Free()
		delete(c.tc.guards, key)
	}
	return g
}

func (c *checkedEnv) Thread() *ThreadContext { return c.tc }

func (c *checkedEnv) GetVersion() uint32 {
	defer c.begin("GetVersion", 0).Exit()
	return c.direct.GetVersion()
}

func (c *checkedEnv) FindClass(name string) managed.Handle {
	const op = "FindClass"
	defer c.begin(op, 0).Exit()
	if err := mutf8.Validate([]byte(name)); err != nil {
		c.fail(errors.InvalidUTF8(op, []byte(name), err))
	}
	if strings.ContainsRune(name, '.') {
		c.fail(errors.New(errors.PhaseCheck, errors.KindInvalidInput).
			Op(op).
			Value(name).
			Detail("class name %q uses '.' instead of '/'", name).
			Build())
	}
	return c.direct.FindClass(name)
}

func (c *checkedEnv) GetSuperclass(class managed.Handle) managed.Handle {
	const op = "GetSuperclass"
	defer c.begin(op, 0).Exit()
	c.checkClass(op, class)
	return c.direct.GetSuperclass(class)
}

func (c *checkedEnv) IsAssignableFrom(sub, super managed.Handle) bool {
	const op = "IsAssignableFrom"
	defer c.begin(op, 0).Exit()
	c.checkClass(op, sub)
	c.checkClass(op, super)
	return c.direct.IsAssignableFrom(sub, super)
}

func (c *checkedEnv) GetObjectClass(obj managed.Handle) managed.Handle {
	const op = "GetObjectClass"
	defer c.begin(op, 0).Exit()
	c.checkRef(op, obj, false)
	return c.direct.GetObjectClass(obj)
}

func (c *checkedEnv) IsInstanceOf(obj, class managed.Handle) bool {
	const op = "IsInstanceOf"
	defer c.begin(op, 0).Exit()
	c.checkRef(op, obj, true)
	c.checkClass(op, class)
	return c.direct.IsInstanceOf(obj, class)
}

func (c *checkedEnv) IsSameObject(a, b managed.Handle) bool {
	const op = "IsSameObject"
	defer c.begin(op, 0).Exit()
	c.checkRef(op, a, true)
	c.checkRef(op, b, true)
	return c.direct.IsSameObject(a, b)
}

func (c *checkedEnv) AllocObject(class managed.Handle) managed.Handle {
	const op = "AllocObject"
	defer c.begin(op, 0).Exit()
	if cls := c.checkClass(op, class); cls != nil && cls.IsArray() {
		c.mismatch(op, class, "non-array class")
	}
	return c.direct.AllocObject(class)
}

func (c *checkedEnv) GetMethodID(class managed.Handle, name, sig string) *managed.Method {
	const op = "GetMethodID"
	defer c.begin(op, 0).Exit()
	c.checkMethodName(op, class, name, sig)
	return c.direct.GetMethodID(class, name, sig)
}

func (c *checkedEnv) GetStaticMethodID(class managed.Handle, name, sig string) *managed.Method {
	const op = "GetStaticMethodID"
	defer c.begin(op, 0).Exit()
	c.checkMethodName(op, class, name, sig)
	return c.direct.GetStaticMethodID(class, name, sig)
}

func (c *checkedEnv) checkMethodName(op string, class managed.Handle, name, sig string) {
	c.checkClass(op, class)
	if name == "" {
		c.fail(errors.New(errors.PhaseCheck, errors.KindInvalidInput).Op(op).Detail("empty method name").Build())
	}
	if _, err := ParseSignature(sig); err != nil {
		be := asError(err)
		be.Phase = errors.PhaseCheck
		be.Op = op
		c.fail(be)
	}
}

func (c *checkedEnv) CallMethod(obj managed.Handle, m *managed.Method, args ...managed.Value) managed.Value {
	const op = "CallMethod"
	defer c.begin(op, 0).Exit()
	c.checkCall(op, obj, m, false, args)
	return c.direct.CallMethod(obj, m, args...)
}

func (c *checkedEnv) CallNonvirtualMethod(obj managed.Handle, m *managed.Method, args ...managed.Value) managed.Value {
	const op = "CallNonvirtualMethod"
	defer c.begin(op, 0).Exit()
	c.checkCall(op, obj, m, false, args)
	return c.direct.CallNonvirtualMethod(obj, m, args...)
}

func (c *checkedEnv) CallStaticMethod(class managed.Handle, m *managed.Method, args ...managed.Value) managed.Value {
	const op = "CallStaticMethod"
	defer c.begin(op, 0).Exit()
	c.checkCall(op, class, m, true, args)
	return c.direct.CallStaticMethod(class, m, args...)
}

func (c *checkedEnv) NewLocalRef(ref managed.Handle) managed.Handle {
	const op = "NewLocalRef"
	defer c.begin(op, 0).Exit()
	c.checkRef(op, ref, true)
	return c.direct.NewLocalRef(ref)
}

func (c *checkedEnv) DeleteLocalRef(ref managed.Handle) {
	const op = "DeleteLocalRef"
	defer c.begin(op, excepOkay).Exit()
	if ref == 0 {
		return
	}
	if !c.tc.DeleteLocal(ref) {
		detail := "not a local reference in the current frame"
		if c.b.IsGlobal(ref) {
			detail = "DeleteLocalRef on a global reference"
		}
		c.fail(errors.InvalidRef(op, uint64(ref), detail))
	}
}

func (c *checkedEnv) NewGlobalRef(ref managed.Handle) managed.Handle {
	const op = "NewGlobalRef"
	defer c.begin(op, 0).Exit()
	c.checkRef(op, ref, true)
	return c.direct.NewGlobalRef(ref)
}

func (c *checkedEnv) DeleteGlobalRef(ref managed.Handle) {
	const op = "DeleteGlobalRef"
	defer c.begin(op, excepOkay).Exit()
	if ref != 0 && !c.b.DeleteGlobal(ref) {
		detail := "not a global reference (deleted twice?)"
		if c.tc.IsLocal(ref) {
			detail = "DeleteGlobalRef on a local reference"
		}
		c.fail(errors.InvalidRef(op, uint64(ref), detail))
	}
}

func (c *checkedEnv) NewWeakGlobalRef(ref managed.Handle) managed.Handle {
	const op = "NewWeakGlobalRef"
	defer c.begin(op, 0).Exit()
	c.checkRef(op, ref, true)
	return c.direct.NewWeakGlobalRef(ref)
}

func (c *checkedEnv) DeleteWeakGlobalRef(ref managed.Handle) {
	defer c.begin("DeleteWeakGlobalRef", excepOkay).Exit()
	c.direct.DeleteWeakGlobalRef(ref)
}

func (c *checkedEnv) GetObjectRefType(ref managed.Handle) RefType {
	defer c.begin("GetObjectRefType", 0).Exit()
	return c.direct.GetObjectRefType(ref)
}

func (c *checkedEnv) PushLocalFrame(capacity int) error {
	const op = "PushLocalFrame"
	defer c.begin(op, 0).Exit()
	c.checkNonNegative(op, "capacity", capacity)
	return c.direct.PushLocalFrame(capacity)
}

func (c *checkedEnv) PopLocalFrame(result managed.Handle) managed.Handle {
	const op = "PopLocalFrame"
	defer c.begin(op, excepOkay).Exit()
	c.checkRef(op, result, true)
	return c.direct.PopLocalFrame(result)
}

func (c *checkedEnv) EnsureLocalCapacity(capacity int) error {
	const op = "EnsureLocalCapacity"
	defer c.begin(op, 0).Exit()
	c.checkNonNegative(op, "capacity", capacity)
	return c.direct.EnsureLocalCapacity(capacity)
}

func (c *checkedEnv) checkThrowable(op string, h managed.Handle, class bool) {
	throwable, _ := c.b.heap.FindClass(managed.ThrowableClass)
	var cls *managed.Class
	if class {
		cls = c.checkClass(op, h)
	} else if c.checkRef(op, h, false) {
		cls, _ = c.b.heap.ClassOf(h)
	}
	if cls != nil && !cls.IsAssignableTo(throwable) {
		c.mismatch(op, h, managed.ThrowableClass)
	}
}

func (c *checkedEnv) Throw(obj managed.Handle) error {
	const op = "Throw"
	defer c.begin(op, 0).Exit()
	c.checkThrowable(op, obj, false)
	return c.direct.Throw(obj)
}

func (c *checkedEnv) ThrowNew(class managed.Handle, msg string) error {
	const op = "ThrowNew"
	defer c.begin(op, 0).Exit()
	c.checkThrowable(op, class, true)
	return c.direct.ThrowNew(class, msg)
}

func (c *checkedEnv) ExceptionOccurred() managed.Handle {
	defer c.begin("ExceptionOccurred", excepOkay).Exit()
	return c.direct.ExceptionOccurred()
}

func (c *checkedEnv) ExceptionCheck() bool {
	defer c.begin("ExceptionCheck", critOkay|excepOkay).Exit()
	return c.direct.ExceptionCheck()
}

func (c *checkedEnv) ExceptionClear() {
	defer c.begin("ExceptionClear", excepOkay).Exit()
	c.direct.ExceptionClear()
}

func (c *checkedEnv) FatalError(msg string) {
	c.direct.FatalError(msg)
}

func (c *checkedEnv) MonitorEnter(obj managed.Handle) error {
	const op = "MonitorEnter"
	defer c.begin(op, 0).Exit()
	c.checkRef(op, obj, false)
	return c.direct.MonitorEnter(obj)
}

func (c *checkedEnv) MonitorExit(obj managed.Handle) error {
	const op = "MonitorExit"
	defer c.begin(op, excepOkay).Exit()
	if c.checkRef(op, obj, false) {
		if owner, _ := c.b.heap.MonitorOwner(obj); owner != c.tc.tid {
			c.fail(errors.New(errors.PhaseCheck, errors.KindUnbalanced).
				Op(op).
				Handle(uint64(obj)).
				Detail("monitor is owned by thread %d", owner).
				Build())
		}
	}
	return c.direct.MonitorExit(obj)
}

func (c *checkedEnv) NewString(chars []uint16) managed.Handle {
	defer c.begin("NewString", 0).Exit()
	return c.direct.NewString(chars)
}

func (c *checkedEnv) GetStringLength(s managed.Handle) int {
	const op = "GetStringLength"
	defer c.begin(op, 0).Exit()
	c.checkString(op, s)
	return c.direct.GetStringLength(s)
}

func (c *checkedEnv) GetStringChars(s managed.Handle) []uint16 {
	const op = "GetStringChars"
	defer c.begin(op, 0).Exit()
	if c.checkString(op, s) == nil {
		return nil
	}
	raw := c.direct.GetStringChars(s)
	g := guard.New(bytesOf(raw))
	c.tc.trackGuard(&guardedBuffer{copy: g, op: op, obj: s})
	return viewAs[uint16](g.Bytes())
}

func (c *checkedEnv) ReleaseStringChars(s managed.Handle, chars []uint16) {
	const op = "ReleaseStringChars"
	defer c.begin(op, excepOkay).Exit()
	c.checkString(op, s)
	if c.releaseGuard(op, s, bytesOf(chars), ReleaseAbort) != nil {
		c.direct.ReleaseStringChars(s, nil)
	}
}

func (c *checkedEnv) GetStringRegion(s managed.Handle, start, n int, buf []uint16) {
	const op = "GetStringRegion"
	defer c.begin(op, 0).Exit()
	if str := c.checkString(op, s); str != nil {
		c.checkRegion(op, start, n, str.Len(), len(buf)*2, 2)
	}
	c.direct.GetStringRegion(s, start, n, buf)
}

func (c *checkedEnv) NewStringUTF(utf []byte) managed.Handle {
	const op = "NewStringUTF"
	defer c.begin(op, 0).Exit()
	if err := mutf8.Validate(utf); err != nil {
		c.fail(errors.InvalidUTF8(op, utf, err))
	}
	return c.direct.NewStringUTF(utf)
}

func (c *checkedEnv) GetStringUTFLength(s managed.Handle) int {
	const op = "GetStringUTFLength"
	defer c.begin(op, 0).Exit()
	c.checkString(op, s)
	return c.direct.GetStringUTFLength(s)
}

func (c *checkedEnv) GetStringUTFChars(s managed.Handle) []byte {
	const op = "GetStringUTFChars"
	defer c.begin(op, 0).Exit()
	if c.checkString(op, s) == nil {
		return nil
	}
	g := guard.New(c.direct.GetStringUTFChars(s))
	c.tc.trackGuard(&guardedBuffer{copy: g, op: op, obj: s})
	return g.Bytes()
}

func (c *checkedEnv) ReleaseStringUTFChars(s managed.Handle, utf []byte) {
	const op = "ReleaseStringUTFChars"
	defer c.begin(op, excepOkay).Exit()
	c.checkString(op, s)
	c.releaseGuard(op, s, utf, ReleaseAbort)
}

func (c *checkedEnv) GetStringCritical(s managed.Handle) []uint16 {
	const op = "GetStringCritical"
	defer c.begin(op, critOkay).Exit()
	if c.checkString(op, s) == nil {
		return nil
	}
	raw := c.direct.GetStringCritical(s)
	if !c.b.opts.ForceCopy {
		return raw
	}
	g := guard.New(bytesOf(raw))
	c.tc.trackGuard(&guardedBuffer{copy: g, op: op, obj: s})
	return viewAs[uint16](g.Bytes())
}

func (c *checkedEnv) ReleaseStringCritical(s managed.Handle, chars []uint16) {
	const op = "ReleaseStringCritical"
	defer c.begin(op, critOkay|excepOkay).Exit()
	c.checkString(op, s)
	c.checkPinned(op, s)
	if c.b.opts.ForceCopy {
		c.releaseGuard(op, s, bytesOf(chars), ReleaseAbort)
	}
	c.direct.ReleaseStringCritical(s, nil)
}

func (c *checkedEnv) checkPinned(op string, h managed.Handle) {
	if !c.tc.hasPin(h) {
		c.fail(errors.New(errors.PhaseCritical, errors.KindUnbalanced).
			Op(op).
			Handle(uint64(h)).
			Detail("release of an object this thread never pinned").
			Build())
	}
}

func (c *checkedEnv) GetArrayLength(arr managed.Handle) int {
	const op = "GetArrayLength"
	defer c.begin(op, 0).Exit()
	c.checkArray(op, arr, 0)
	return c.direct.GetArrayLength(arr)
}

func (c *checkedEnv) NewPrimitiveArray(kind managed.Kind, n int) managed.Handle {
	const op = "NewPrimitiveArray"
	defer c.begin(op, 0).Exit()
	if !kind.IsPrimitive() {
		c.fail(errors.New(errors.PhaseCheck, errors.KindInvalidInput).
			Op(op).
			Value(kind).
			Detail("%s is not a primitive element kind", kind).
			Build())
	}
	c.checkNonNegative(op, "array length", n)
	return c.direct.NewPrimitiveArray(kind, n)
}

func (c *checkedEnv) NewObjectArray(n int, elemClass, init managed.Handle) managed.Handle {
	const op = "NewObjectArray"
	defer c.begin(op, 0).Exit()
	c.checkNonNegative(op, "array length", n)
	elem := c.checkClass(op, elemClass)
	if c.checkRef(op, init, true) && init != 0 && elem != nil {
		if got, _ := c.b.heap.ClassOf(init); !got.IsAssignableTo(elem) {
			c.mismatch(op, init, elem.Name())
		}
	}
	return c.direct.NewObjectArray(n, elemClass, init)
}

func (c *checkedEnv) GetObjectArrayElement(arr managed.Handle, i int) managed.Handle {
	const op = "GetObjectArrayElement"
	defer c.begin(op, 0).Exit()
	if a := c.checkArray(op, arr, managed.Reference); a != nil {
		c.checkRegion(op, i, 1, a.Len(), 1, 1)
	}
	return c.direct.GetObjectArrayElement(arr, i)
}

func (c *checkedEnv) SetObjectArrayElement(arr managed.Handle, i int, v managed.Handle) {
	const op = "SetObjectArrayElement"
	defer c.begin(op, 0).Exit()
	if a := c.checkArray(op, arr, managed.Reference); a != nil {
		c.checkRegion(op, i, 1, a.Len(), 1, 1)
	}
	c.checkRef(op, v, true)
	c.direct.SetObjectArrayElement(arr, i, v)
}

func (c *checkedEnv) GetArrayElements(arr managed.Handle, kind managed.Kind) ([]byte, bool) {
	const op = "GetArrayElements"
	defer c.begin(op, 0).Exit()
	if c.checkArray(op, arr, kind) == nil {
		return nil, false
	}
	raw, _ := c.direct.GetArrayElements(arr, kind)
	g := guard.New(raw)
	c.tc.trackGuard(&guardedBuffer{copy: g, op: op, obj: arr, modOkay: true})
	return g.Bytes(), true
}

func (c *checkedEnv) ReleaseArrayElements(arr managed.Handle, elems []byte, mode ReleaseMode) {
	const op = "ReleaseArrayElements"
	defer c.begin(op, excepOkay).Exit()
	c.checkArray(op, arr, 0)
	c.checkMode(op, mode)
	if g := c.releaseGuard(op, arr, elems, mode); g != nil {
		c.direct.ReleaseArrayElements(arr, g.copy.Original(), mode)
	}
}

func (c *checkedEnv) GetArrayRegion(arr managed.Handle, kind managed.Kind, start, n int, buf []byte) {
	const op = "GetArrayRegion"
	defer c.begin(op, 0).Exit()
	if a := c.checkArray(op, arr, kind); a != nil {
		c.checkRegion(op, start, n, a.Len(), len(buf), a.Kind().Width())
	}
	c.direct.GetArrayRegion(arr, kind, start, n, buf)
}

func (c *checkedEnv) SetArrayRegion(arr managed.Handle, kind managed.Kind, start, n int, buf []byte) {
	const op = "SetArrayRegion"
	defer c.begin(op, 0).Exit()
	if a := c.checkArray(op, arr, kind); a != nil {
		c.checkRegion(op, start, n, a.Len(), len(buf), a.Kind().Width())
	}
	c.direct.SetArrayRegion(arr, kind, start, n, buf)
}

func (c *checkedEnv) GetPrimitiveArrayCritical(arr managed.Handle) []byte {
	const op = "GetPrimitiveArrayCritical"
	defer c.begin(op, critOkay).Exit()
	a := c.checkArray(op, arr, 0)
	if a == nil {
		return nil
	}
	if a.Kind() == managed.Reference {
		c.mismatch(op, arr, "primitive array")
	}
	raw := c.direct.GetPrimitiveArrayCritical(arr)
	if !c.b.opts.ForceCopy {
		return raw
	}
	g := guard.New(raw)
	c.tc.trackGuard(&guardedBuffer{copy: g, op: op, obj: arr, modOkay: true})
	return g.Bytes()
}

func (c *checkedEnv) ReleasePrimitiveArrayCritical(arr managed.Handle, elems []byte, mode ReleaseMode) {
	const op = "ReleasePrimitiveArrayCritical"
	defer c.begin(op, critOkay|excepOkay).Exit()
	c.checkArray(op, arr, 0)
	c.checkMode(op, mode)
	c.checkPinned(op, arr)
	if c.b.opts.ForceCopy {
		c.releaseGuard(op, arr, elems, mode)
	}
	c.direct.ReleasePrimitiveArrayCritical(arr, nil, mode)
}

func (c *checkedEnv) RegisterNatives(class managed.Handle, methods []NativeMethod) error {
	const op = "RegisterNatives"
	defer c.begin(op, 0).Exit()
	c.checkClass(op, class)
	for _, nm := range methods {
		if nm.Name == "" || nm.Fn == nil {
			c.fail(errors.New(errors.PhaseCheck, errors.KindInvalidInput).
				Op(op).
				Detail("incomplete registration %q%s", nm.Name, nm.Signature).
				Build())
		}
	}
	return c.direct.RegisterNatives(class, methods)
}

func (c *checkedEnv) UnregisterNatives(class managed.Handle) error {
	const op = "UnregisterNatives"
	defer c.begin(op, 0).Exit()
	c.checkClass(op, class)
	return c.direct.UnregisterNatives(class)
}
