package remote

// StreamName identifies which subprocess stream a line came from.
type StreamName string

const (
	StreamStdout StreamName = "stdout"
	StreamStderr StreamName = "stderr"
)

// Hook receives every output line produced by every host. Notify is called
// once per line and concurrently from many hosts' consumers, so
// implementations must be safe for concurrent use. A non-nil error aborts
// the delivering task and surfaces through Wait.
type Hook interface {
	Notify(host string, stream StreamName, line []byte) error
}
