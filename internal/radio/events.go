package radio

// ConnectionEvent is one lifecycle transition of a connection. The set of
// variants is closed.
type ConnectionEvent interface {
	connectionEvent()
}

type Connecting struct{}

type Connected struct {
	Handle Handle
}

type ServicesDiscovered struct {
	Handle   Handle
	Services []Service
}

type CharacteristicRead struct {
	Handle         Handle
	Characteristic Characteristic
	Value          []byte
}

type CharacteristicReadFailed struct {
	Handle         Handle
	Characteristic Characteristic
	Status         int
}

type Disconnecting struct {
	Handle Handle
}

type Disconnected struct {
	Handle Handle
}

// DisconnectedWithError carries the platform status code.
type DisconnectedWithError struct {
	Handle Handle
	Status int
}

// MaxConnectionsReached reports that the platform refused another link.
type MaxConnectionsReached struct{}

func (Connecting) connectionEvent()               {}
func (Connected) connectionEvent()                {}
func (ServicesDiscovered) connectionEvent()       {}
func (CharacteristicRead) connectionEvent()       {}
func (CharacteristicReadFailed) connectionEvent() {}
func (Disconnecting) connectionEvent()            {}
func (Disconnected) connectionEvent()             {}
func (DisconnectedWithError) connectionEvent()    {}
func (MaxConnectionsReached) connectionEvent()    {}
