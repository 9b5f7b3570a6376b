package core

import "encoding/json"

// Payer is the absolute payer identity as persisted in the store: one of
// the two device roles, or a shared "together" payment. Storing absolute
// roles means two paired devices read the same rows and only translate to
// their own viewpoint at render time.
type Payer uint8

const (
	RoleOne Payer = iota + 1
	RoleTwo
	Together
)

// Relative is the payer identity from the current device's viewpoint.
type Relative uint8

const (
	Me Relative = iota + 1
	You
	Shared
)

// SharedLabel is the fixed display string for together payments.
const SharedLabel = "함께"

const (
	DefaultMeAlias  = "나"
	DefaultYouAlias = "상대방"
)

func (p Payer) Valid() bool {
	return p == RoleOne || p == RoleTwo || p == Together
}

func (p Payer) String() string {
	switch p {
	case RoleOne:
		return "1"
	case RoleTwo:
		return "2"
	case Together:
		return "together"
	}
	return ""
}

// Other returns the counterpart role. Together has no counterpart and maps
// to itself.
func (p Payer) Other() Payer {
	switch p {
	case RoleOne:
		return RoleTwo
	case RoleTwo:
		return RoleOne
	}
	return p
}

func (p Payer) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Payer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = DecodePayer(s, RoleOne)
	return nil
}

func (r Relative) String() string {
	switch r {
	case Me:
		return "me"
	case You:
		return "you"
	case Shared:
		return "together"
	}
	return ""
}

// DecodePayer maps a stored payer string onto the Payer variant. Legacy
// rows wrote the subjective vocabulary before roles existed: "me" was
// always the role-1 device and "you" its partner. Anything unrecognized
// falls back to the supplied role so decoding never fails.
func DecodePayer(s string, fallback Payer) Payer {
	switch s {
	case "1":
		return RoleOne
	case "2":
		return RoleTwo
	case "together":
		return Together
	case "me":
		return RoleOne
	case "you":
		return RoleTwo
	}
	return fallback
}

// DecodeRole maps a persisted device-role setting onto a role. Only "2"
// selects the second role; everything else is the default role 1.
func DecodeRole(s string) Payer {
	if s == "2" {
		return RoleTwo
	}
	return RoleOne
}

// DecodeRelative maps UI input onto the relative variant, defaulting to Me.
func DecodeRelative(s string) Relative {
	switch s {
	case "you":
		return You
	case "together":
		return Shared
	}
	return Me
}

// ToAbsolute converts the device-relative payer to the stored identity
// using deviceRole as the frame of reference. Unknown input means Me.
func ToAbsolute(rel Relative, deviceRole Payer) Payer {
	switch rel {
	case Shared:
		return Together
	case You:
		return deviceRole.Other()
	}
	return deviceRole
}

// ToRelative converts a stored payer to this device's viewpoint. Roles
// other than the device's own render as You; anything unexpected renders
// as Me.
func ToRelative(abs Payer, deviceRole Payer) Relative {
	switch abs {
	case Together:
		return Shared
	case deviceRole:
		return Me
	case RoleOne, RoleTwo:
		return You
	}
	return Me
}

// Label renders a stored payer for display, using the device's configured
// aliases. Together always renders the fixed shared label.
func Label(abs Payer, deviceRole Payer, meAlias, youAlias string) string {
	if meAlias == "" {
		meAlias = DefaultMeAlias
	}
	if youAlias == "" {
		youAlias = DefaultYouAlias
	}
	switch ToRelative(abs, deviceRole) {
	case You:
		return youAlias
	case Shared:
		return SharedLabel
	}
	return meAlias
}
