package traverse

import "io/fs"

// Type is a cheap file-type classification, usually derived from directory
// enumeration hints without any extra system work.
type Type int

const (
	TypeUnknown Type = iota
	TypeRegular
	TypeDir
	TypeSymlink
	TypeBlockDev
	TypeCharDev
	TypeFIFO
	TypeSocket
)

// String returns the find-style single letter for the type where one exists.
func (t Type) String() string {
	switch t {
	case TypeRegular:
		return "f"
	case TypeDir:
		return "d"
	case TypeSymlink:
		return "l"
	case TypeBlockDev:
		return "b"
	case TypeCharDev:
		return "c"
	case TypeFIFO:
		return "p"
	case TypeSocket:
		return "s"
	default:
		return "?"
	}
}

// typeFromMode converts fs.FileMode type bits to a Type.
func typeFromMode(mode fs.FileMode) Type {
	switch mode & fs.ModeType {
	case 0:
		return TypeRegular
	case fs.ModeDir:
		return TypeDir
	case fs.ModeSymlink:
		return TypeSymlink
	case fs.ModeDevice:
		return TypeBlockDev
	case fs.ModeDevice | fs.ModeCharDevice:
		return TypeCharDev
	case fs.ModeNamedPipe:
		return TypeFIFO
	case fs.ModeSocket:
		return TypeSocket
	default:
		return TypeUnknown
	}
}
