package protocol

import (
	"encoding/json"

	"github.com/gofrs/uuid/v5"
)

func init() {
	register(func() Message { return &ConfigRequest{} })
	register(func() Message { return &ConfigSuccess{} })
	register(func() Message { return &ConfigFailure{} })
	register(func() Message { return &ReconcileIAPRequest{} })
	register(func() Message { return &ReconcileIAPResult{} })
}

// ConfigRequest fetches a config resource by type and identifier.
type ConfigRequest struct {
	Type       string
	Identifier string
}

func (m *ConfigRequest) Name() string { return "ConfigRequest" }

func (m *ConfigRequest) MarshalBody() ([]byte, error) {
	var w Writer
	w.StringNT(m.Type)
	w.StringNT(m.Identifier)
	return w.Bytes(), nil
}

func (m *ConfigRequest) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.Type, err = r.StringNT(); err != nil {
		return err
	}
	m.Identifier, err = r.StringNT()
	return err
}

// ConfigSuccess returns a config resource.
type ConfigSuccess struct {
	TypeSymbol int64
	IDSymbol   int64
	Config     json.RawMessage
}

func (m *ConfigSuccess) Name() string { return "ConfigSuccess" }

func (m *ConfigSuccess) MarshalBody() ([]byte, error) {
	var w Writer
	w.I64(m.TypeSymbol)
	w.I64(m.IDSymbol)
	w.Raw(m.Config)
	return w.Bytes(), nil
}

func (m *ConfigSuccess) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.TypeSymbol, err = r.I64(); err != nil {
		return err
	}
	if m.IDSymbol, err = r.I64(); err != nil {
		return err
	}
	m.Config = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// ConfigFailure reports a missing config resource.
type ConfigFailure struct {
	StatusCode uint64
	Message    string
}

func (m *ConfigFailure) Name() string { return "ConfigFailure" }

func (m *ConfigFailure) MarshalBody() ([]byte, error) {
	var w Writer
	w.U64(m.StatusCode)
	w.StringNT(m.Message)
	return w.Bytes(), nil
}

func (m *ConfigFailure) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.StatusCode, err = r.U64(); err != nil {
		return err
	}
	m.Message, err = r.StringNT()
	return err
}

// ReconcileIAPRequest is the placeholder transaction message. Real
// persistence of purchases is a non-goal; the service acknowledges.
type ReconcileIAPRequest struct {
	Session uuid.UUID
	UserID  XPlatformID
}

func (m *ReconcileIAPRequest) Name() string { return "ReconcileIAPRequest" }

func (m *ReconcileIAPRequest) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.Session)
	m.UserID.write(&w)
	return w.Bytes(), nil
}

func (m *ReconcileIAPRequest) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.Session, err = r.GUID(); err != nil {
		return err
	}
	m.UserID, err = readXPlatformID(r)
	return err
}

// ReconcileIAPResult acknowledges a transaction request.
type ReconcileIAPResult struct {
	UserID XPlatformID
	Result json.RawMessage
}

func (m *ReconcileIAPResult) Name() string { return "ReconcileIAPResult" }

func (m *ReconcileIAPResult) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.Raw(m.Result)
	return w.Bytes(), nil
}

func (m *ReconcileIAPResult) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	m.Result = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}
