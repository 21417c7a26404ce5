// Package wire implements the fwdcast tunnel protocol: tagged JSON
// frames exchanged over the Origin↔Relay duplex WebSocket.
package wire

// Frame type discriminants, as sent on the wire in the "type" field.
const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeRequest    = "request"
	TypeResponse   = "response"
	TypeData       = "data"
	TypeEnd        = "end"
	TypeExpired    = "expired"
)

// Frame is implemented by every concrete message type. Consumers type-switch
// on the concrete type (never on the string alone) once Decode has run.
type Frame interface {
	FrameType() string
}

// Envelope is decoded first to learn which concrete type to unmarshal into.
type Envelope struct {
	Type string `json:"type"`
}

// Register is sent Origin→Relay to open a session.
type Register struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	ExpiresAt int64  `json:"expiresAt"`
	Password  string `json:"password,omitempty"`
}

func (m Register) FrameType() string { return TypeRegister }

// Registered is sent Relay→Origin acknowledging registration.
type Registered struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

func (m Registered) FrameType() string { return TypeRegistered }

// Request is sent Relay→Origin forwarding a viewer HTTP request.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (m Request) FrameType() string { return TypeRequest }

// Response is sent Origin→Relay starting a response to a Request.
type Response struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
}

func (m Response) FrameType() string { return TypeResponse }

// Data is sent Origin→Relay carrying one chunk of a response body.
// Chunk is standard padded base64 of the raw bytes (0..N, N bounded by MaxChunkBytes).
type Data struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Chunk string `json:"chunk"`
}

func (m Data) FrameType() string { return TypeData }

// End is sent Origin→Relay completing a response.
type End struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (m End) FrameType() string { return TypeEnd }

// Expired is sent Relay→Origin: the session has expired, Origin should terminate.
type Expired struct {
	Type string `json:"type"`
}

func (m Expired) FrameType() string { return TypeExpired }

// MaxChunkBytes is the maximum raw (pre-base64) byte length of a single Data frame.
const MaxChunkBytes = 64 * 1024

// NewRegister builds a Register frame.
func NewRegister(path string, expiresAt int64, password string) Register {
	return Register{Type: TypeRegister, Path: path, ExpiresAt: expiresAt, Password: password}
}

// NewRegistered builds a Registered frame.
func NewRegistered(sessionID, url string) Registered {
	return Registered{Type: TypeRegistered, SessionID: sessionID, URL: url}
}

// NewRequest builds a Request frame.
func NewRequest(id, method, path string) Request {
	return Request{Type: TypeRequest, ID: id, Method: method, Path: path}
}

// NewResponse builds a Response frame. Headers must be non-nil (may be empty).
func NewResponse(id string, status int, headers map[string]string) Response {
	if headers == nil {
		headers = map[string]string{}
	}
	return Response{Type: TypeResponse, ID: id, Status: status, Headers: headers}
}

// NewData builds a Data frame from raw bytes, base64-encoding the chunk.
func NewData(id string, raw []byte) Data {
	return Data{Type: TypeData, ID: id, Chunk: encodeChunk(raw)}
}

// NewEnd builds an End frame.
func NewEnd(id string) End {
	return End{Type: TypeEnd, ID: id}
}

// NewExpired builds an Expired frame.
func NewExpired() Expired {
	return Expired{Type: TypeExpired}
}
