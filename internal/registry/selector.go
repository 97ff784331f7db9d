package registry

import "net"

// Selector filters the unit set for bulk operations (CompleteAction,
// Select, Forget, SetProgress, ...). It mirrors the closed set of ways an
// operator or the wire protocol names units: by address, by group, by
// assigned image, or unconditionally.
type Selector struct {
	kind  selectorKind
	mac   string
	ip    string
	group uint8
	image string
}

type selectorKind int

const (
	selectAll selectorKind = iota
	selectMAC
	selectIP
	selectGroup
	selectImage
)

func SelectAll() Selector                { return Selector{kind: selectAll} }
func SelectMAC(mac net.HardwareAddr) Selector { return Selector{kind: selectMAC, mac: mac.String()} }
func SelectIP(ip net.IP) Selector        { return Selector{kind: selectIP, ip: ip.String()} }
func SelectGroup(group uint8) Selector   { return Selector{kind: selectGroup, group: group} }
func SelectImage(image string) Selector  { return Selector{kind: selectImage, image: image} }

func (s Selector) matches(u Unit) bool {
	switch s.kind {
	case selectAll:
		return true
	case selectMAC:
		return u.MAC.String() == s.mac
	case selectIP:
		return u.StaticIP().String() == s.ip
	case selectGroup:
		return u.Group == s.group
	case selectImage:
		return u.Image == s.image
	default:
		return false
	}
}

// ParseSelector parses an operator-supplied selector string: a MAC
// address, an IP address, the literal "all", a configured group name (via
// groupID), or a configured image name (via validImage).
func ParseSelector(selector string, groupID func(name string) (uint8, bool), validImage func(name string) bool) (Selector, bool) {
	if mac, err := net.ParseMAC(selector); err == nil {
		return SelectMAC(mac), true
	}
	if ip := net.ParseIP(selector); ip != nil {
		return SelectIP(ip), true
	}
	if selector == "all" {
		return SelectAll(), true
	}
	if group, ok := groupID(selector); ok {
		return SelectGroup(group), true
	}
	if validImage(selector) {
		return SelectImage(selector), true
	}
	return Selector{}, false
}
