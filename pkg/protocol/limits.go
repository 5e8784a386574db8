package protocol

// Size limits applied while decoding client frames. They complement the
// websocket read limit, which bounds the frame as a whole.
const (
	// MaxFrameSize is the largest client frame accepted by DecodeClient.
	MaxFrameSize = 256 * 1024

	// MaxSessionIDLength bounds session identifiers.
	MaxSessionIDLength = 128

	// MaxDrawingIDLength bounds client-generated drawing ids.
	MaxDrawingIDLength = 128

	// MaxPoints bounds the number of coordinates in one drawing event.
	MaxPoints = 20000

	// MaxTextLength bounds the text of a text drawing.
	MaxTextLength = 4096
)
