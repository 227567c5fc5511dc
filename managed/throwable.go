package managed

// Exception classes raised by the runtimes themselves.
const (
	ErrNoClassDef       = "java/lang/NoClassDefFoundError"
	ErrNoSuchMethod     = "java/lang/NoSuchMethodError"
	ErrNoSuchField      = "java/lang/NoSuchFieldError"
	ErrNullPointer      = "java/lang/NullPointerException"
	ErrIllegalArgument  = "java/lang/IllegalArgumentException"
	ErrIndexOutOfBounds = "java/lang/ArrayIndexOutOfBoundsException"
	ErrNegativeSize     = "java/lang/NegativeArraySizeException"
	ErrOutOfMemory      = "java/lang/OutOfMemoryError"
	ErrRuntime          = "java/lang/RuntimeException"
)

// Throwable is an exception raised inside the managed runtime.
type Throwable struct {
	Class   string
	Message string
}

func (t *Throwable) Error() string {
	if t.Message == "" {
		return t.Class
	}
	return t.Class + ": " + t.Message
}

// Throw returns a Throwable of the given class.
func Throw(class, message string) *Throwable {
	return &Throwable{Class: class, Message: message}
}
