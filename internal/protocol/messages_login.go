package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

func init() {
	register(func() Message { return &LoginRequest{} })
	register(func() Message { return &LoginSuccess{} })
	register(func() Message { return &LoginFailure{} })
	register(func() Message { return &LoginSettings{} })
	register(func() Message { return &TCPConnectionUnrequireEvent{} })
	register(func() Message { return &LoggedInUserProfileRequest{} })
	register(func() Message { return &LoggedInUserProfileSuccess{} })
	register(func() Message { return &LoggedInUserProfileFailure{} })
	register(func() Message { return &OtherUserProfileRequest{} })
	register(func() Message { return &OtherUserProfileSuccess{} })
	register(func() Message { return &OtherUserProfileFailure{} })
	register(func() Message { return &UpdateClientProfileRequest{} })
	register(func() Message { return &UpdateProfileSuccess{} })
	register(func() Message { return &UpdateProfileFailure{} })
	register(func() Message { return &UserServerProfileUpdateRequest{} })
	register(func() Message { return &UserServerProfileUpdateSuccess{} })
	register(func() Message { return &ChannelInfoRequest{} })
	register(func() Message { return &ChannelInfoResponse{} })
	register(func() Message { return &DocumentRequestv2{} })
	register(func() Message { return &DocumentSuccess{} })
	register(func() Message { return &DocumentFailure{} })
	register(func() Message { return &RemoteLogSetv3{} })
}

// LoginRequest starts authentication on the login service. The account
// info blob carries platform metadata the client reports about itself.
type LoginRequest struct {
	Session     uuid.UUID
	UserID      XPlatformID
	AccountInfo json.RawMessage
}

func (m *LoginRequest) Name() string { return "LoginRequest" }

func (m *LoginRequest) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.Session)
	m.UserID.write(&w)
	w.Raw(m.AccountInfo)
	return w.Bytes(), nil
}

func (m *LoginRequest) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.Session, err = r.GUID(); err != nil {
		return err
	}
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	m.AccountInfo = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// LoginSuccess reports the issued session to the client.
type LoginSuccess struct {
	Session uuid.UUID
	UserID  XPlatformID
}

func (m *LoginSuccess) Name() string { return "LoginSuccess" }

func (m *LoginSuccess) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.Session)
	m.UserID.write(&w)
	return w.Bytes(), nil
}

func (m *LoginSuccess) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.Session, err = r.GUID(); err != nil {
		return err
	}
	m.UserID, err = readXPlatformID(r)
	return err
}

// LoginFailure carries an HTTP-style status code and a reason.
type LoginFailure struct {
	UserID     XPlatformID
	StatusCode uint64
	Message    string
}

func (m *LoginFailure) Name() string { return "LoginFailure" }

func (m *LoginFailure) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.U64(m.StatusCode)
	w.StringNT(m.Message)
	return w.Bytes(), nil
}

func (m *LoginFailure) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	if m.StatusCode, err = r.U64(); err != nil {
		return err
	}
	m.Message, err = r.StringNT()
	return err
}

// LoginSettings broadcasts the current login settings resource after a
// successful login. The body is the raw JSON resource.
type LoginSettings struct {
	Settings json.RawMessage
}

func (m *LoginSettings) Name() string { return "LoginSettings" }

func (m *LoginSettings) MarshalBody() ([]byte, error) {
	return m.Settings, nil
}

func (m *LoginSettings) UnmarshalBody(data []byte) error {
	m.Settings = append(json.RawMessage(nil), data...)
	return nil
}

// TCPConnectionUnrequireEvent is the control message that lets the
// client transport proceed after login. One zero byte.
type TCPConnectionUnrequireEvent struct{}

func (m *TCPConnectionUnrequireEvent) Name() string { return "TcpConnectionUnrequireEvent" }

func (m *TCPConnectionUnrequireEvent) MarshalBody() ([]byte, error) {
	return []byte{0}, nil
}

func (m *TCPConnectionUnrequireEvent) UnmarshalBody(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("unexpected body length %d", len(data))
	}
	return nil
}

// LoggedInUserProfileRequest fetches the caller's own account profile.
type LoggedInUserProfileRequest struct {
	Session uuid.UUID
	UserID  XPlatformID
}

func (m *LoggedInUserProfileRequest) Name() string { return "LoggedInUserProfileRequest" }

func (m *LoggedInUserProfileRequest) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.Session)
	m.UserID.write(&w)
	return w.Bytes(), nil
}

func (m *LoggedInUserProfileRequest) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.Session, err = r.GUID(); err != nil {
		return err
	}
	m.UserID, err = readXPlatformID(r)
	return err
}

// LoggedInUserProfileSuccess returns the full account profile.
type LoggedInUserProfileSuccess struct {
	UserID  XPlatformID
	Profile json.RawMessage
}

func (m *LoggedInUserProfileSuccess) Name() string { return "LoggedInUserProfileSuccess" }

func (m *LoggedInUserProfileSuccess) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.Raw(m.Profile)
	return w.Bytes(), nil
}

func (m *LoggedInUserProfileSuccess) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	m.Profile = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// LoggedInUserProfileFailure reports a profile fetch failure.
type LoggedInUserProfileFailure struct {
	UserID     XPlatformID
	StatusCode uint64
	Message    string
}

func (m *LoggedInUserProfileFailure) Name() string { return "LoggedInUserProfileFailure" }

func (m *LoggedInUserProfileFailure) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.U64(m.StatusCode)
	w.StringNT(m.Message)
	return w.Bytes(), nil
}

func (m *LoggedInUserProfileFailure) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	if m.StatusCode, err = r.U64(); err != nil {
		return err
	}
	m.Message, err = r.StringNT()
	return err
}

// OtherUserProfileRequest fetches another user's server profile. No
// session check applies: the server profile is public.
type OtherUserProfileRequest struct {
	UserID XPlatformID
}

func (m *OtherUserProfileRequest) Name() string { return "OtherUserProfileRequest" }

func (m *OtherUserProfileRequest) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	return w.Bytes(), nil
}

func (m *OtherUserProfileRequest) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	m.UserID, err = readXPlatformID(r)
	return err
}

// OtherUserProfileSuccess returns only the server sub-profile.
type OtherUserProfileSuccess struct {
	UserID  XPlatformID
	Profile json.RawMessage
}

func (m *OtherUserProfileSuccess) Name() string { return "OtherUserProfileSuccess" }

func (m *OtherUserProfileSuccess) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.Raw(m.Profile)
	return w.Bytes(), nil
}

func (m *OtherUserProfileSuccess) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	m.Profile = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// OtherUserProfileFailure reports a public profile fetch failure.
type OtherUserProfileFailure struct {
	UserID     XPlatformID
	StatusCode uint64
	Message    string
}

func (m *OtherUserProfileFailure) Name() string { return "OtherUserProfileFailure" }

func (m *OtherUserProfileFailure) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.U64(m.StatusCode)
	w.StringNT(m.Message)
	return w.Bytes(), nil
}

func (m *OtherUserProfileFailure) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	if m.StatusCode, err = r.U64(); err != nil {
		return err
	}
	m.Message, err = r.StringNT()
	return err
}

// UpdateClientProfileRequest replaces the account's client profile.
type UpdateClientProfileRequest struct {
	Session uuid.UUID
	UserID  XPlatformID
	Profile json.RawMessage
}

func (m *UpdateClientProfileRequest) Name() string { return "UpdateProfile" }

func (m *UpdateClientProfileRequest) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.Session)
	m.UserID.write(&w)
	w.Raw(m.Profile)
	return w.Bytes(), nil
}

func (m *UpdateClientProfileRequest) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.Session, err = r.GUID(); err != nil {
		return err
	}
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	m.Profile = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// UpdateProfileSuccess acknowledges a profile update.
type UpdateProfileSuccess struct {
	UserID XPlatformID
}

func (m *UpdateProfileSuccess) Name() string { return "UpdateProfileSuccess" }

func (m *UpdateProfileSuccess) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	return w.Bytes(), nil
}

func (m *UpdateProfileSuccess) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	m.UserID, err = readXPlatformID(r)
	return err
}

// UpdateProfileFailure reports a rejected profile update.
type UpdateProfileFailure struct {
	UserID     XPlatformID
	StatusCode uint64
	Message    string
}

func (m *UpdateProfileFailure) Name() string { return "UpdateProfileFailure" }

func (m *UpdateProfileFailure) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.U64(m.StatusCode)
	w.StringNT(m.Message)
	return w.Bytes(), nil
}

func (m *UpdateProfileFailure) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	if m.StatusCode, err = r.U64(); err != nil {
		return err
	}
	m.Message, err = r.StringNT()
	return err
}

// UserServerProfileUpdateRequest merges a delta into the server
// profile. Game servers send it to report per-match results.
type UserServerProfileUpdateRequest struct {
	UserID XPlatformID
	Delta  json.RawMessage
}

func (m *UserServerProfileUpdateRequest) Name() string { return "UserServerProfileUpdateRequest" }

func (m *UserServerProfileUpdateRequest) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.Raw(m.Delta)
	return w.Bytes(), nil
}

func (m *UserServerProfileUpdateRequest) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	m.Delta = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// UserServerProfileUpdateSuccess acknowledges a server profile merge.
type UserServerProfileUpdateSuccess struct {
	UserID XPlatformID
}

func (m *UserServerProfileUpdateSuccess) Name() string { return "UserServerProfileUpdateSuccess" }

func (m *UserServerProfileUpdateSuccess) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	return w.Bytes(), nil
}

func (m *UserServerProfileUpdateSuccess) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	m.UserID, err = readXPlatformID(r)
	return err
}

// ChannelInfoRequest asks for the channel list shown at login.
type ChannelInfoRequest struct{}

func (m *ChannelInfoRequest) Name() string { return "ChannelInfoRequest" }

func (m *ChannelInfoRequest) MarshalBody() ([]byte, error) { return nil, nil }

func (m *ChannelInfoRequest) UnmarshalBody(data []byte) error { return nil }

// ChannelInfoResponse returns the channel info resource as JSON.
type ChannelInfoResponse struct {
	ChannelInfo json.RawMessage
}

func (m *ChannelInfoResponse) Name() string { return "ChannelInfoResponse" }

func (m *ChannelInfoResponse) MarshalBody() ([]byte, error) {
	var w Writer
	w.JSONU32(m.ChannelInfo)
	return w.Bytes(), nil
}

func (m *ChannelInfoResponse) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	m.ChannelInfo, err = r.JSONU32()
	return err
}

// DocumentRequestv2 fetches a localized document by language and name.
type DocumentRequestv2 struct {
	Language string
	Type     string
}

func (m *DocumentRequestv2) Name() string { return "DocumentRequestv2" }

func (m *DocumentRequestv2) MarshalBody() ([]byte, error) {
	var w Writer
	w.StringNT(m.Language)
	w.StringNT(m.Type)
	return w.Bytes(), nil
}

func (m *DocumentRequestv2) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.Language, err = r.StringNT(); err != nil {
		return err
	}
	m.Type, err = r.StringNT()
	return err
}

// DocumentSuccess returns a document resource.
type DocumentSuccess struct {
	DocumentSymbol int64
	Document       json.RawMessage
}

func (m *DocumentSuccess) Name() string { return "DocumentSuccess" }

func (m *DocumentSuccess) MarshalBody() ([]byte, error) {
	var w Writer
	w.I64(m.DocumentSymbol)
	w.Raw(m.Document)
	return w.Bytes(), nil
}

func (m *DocumentSuccess) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.DocumentSymbol, err = r.I64(); err != nil {
		return err
	}
	m.Document = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// DocumentFailure reports a missing or unresolvable document.
type DocumentFailure struct {
	Message string
}

func (m *DocumentFailure) Name() string { return "DocumentFailure" }

func (m *DocumentFailure) MarshalBody() ([]byte, error) {
	var w Writer
	w.StringNT(m.Message)
	return w.Bytes(), nil
}

func (m *DocumentFailure) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	m.Message, err = r.StringNT()
	return err
}

// RemoteLogSetv3 carries client-side log lines. Each entry is a
// u32 length-prefixed string.
type RemoteLogSetv3 struct {
	UserID   XPlatformID
	LogLevel uint64
	Entries  []string
}

func (m *RemoteLogSetv3) Name() string { return "RemoteLogSetv3" }

func (m *RemoteLogSetv3) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.U64(m.LogLevel)
	for _, e := range m.Entries {
		w.StringU32(e)
	}
	return w.Bytes(), nil
}

func (m *RemoteLogSetv3) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	if m.LogLevel, err = r.U64(); err != nil {
		return err
	}
	m.Entries = nil
	for len(r.Remaining()) > 0 {
		e, err := r.StringU32()
		if err != nil {
			return err
		}
		m.Entries = append(m.Entries, e)
	}
	return nil
}
