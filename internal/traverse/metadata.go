package traverse

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// Status is the memoized stat-equivalent metadata for one entry.
type Status struct {
	Size       int64
	Blocks     int64
	Nlink      uint64
	Mode       fs.FileMode
	UID        uint32
	GID        uint32
	Dev        uint64
	Ino        uint64
	AccessTime time.Time
	ModTime    time.Time
	ChangeTime time.Time
}

// Type derives the file-type classification from the status mode.
func (s *Status) Type() Type {
	return typeFromMode(s.Mode)
}

func statusFromSys(st *unix.Stat_t) *Status {
	return &Status{
		Size:       int64(st.Size),
		Blocks:     int64(st.Blocks),
		Nlink:      uint64(st.Nlink),
		Mode:       modeFromUnix(uint32(st.Mode)),
		UID:        st.Uid,
		GID:        st.Gid,
		Dev:        uint64(st.Dev),
		Ino:        uint64(st.Ino),
		AccessTime: time.Unix(st.Atim.Unix()),
		ModTime:    time.Unix(st.Mtim.Unix()),
		ChangeTime: time.Unix(st.Ctim.Unix()),
	}
}

func modeFromUnix(mode uint32) fs.FileMode {
	m := fs.FileMode(mode & 0o777)
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		// nothing
	case unix.S_IFDIR:
		m |= fs.ModeDir
	case unix.S_IFLNK:
		m |= fs.ModeSymlink
	case unix.S_IFBLK:
		m |= fs.ModeDevice
	case unix.S_IFCHR:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case unix.S_IFIFO:
		m |= fs.ModeNamedPipe
	case unix.S_IFSOCK:
		m |= fs.ModeSocket
	}
	if mode&unix.S_ISUID != 0 {
		m |= fs.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= fs.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= fs.ModeSticky
	}
	return m
}

// metadata fetches status blocks relative to cached parent handles, so a
// fetch never re-resolves a full path from the root.
type metadata struct {
	cache *handleCache
	stats *Stats
}

// fetch runs fstatat for n under the given follow policy. Failures come
// back as typed errors carrying n's path: KindVanished when the entry
// disappeared out from under the walk, KindStatus otherwise.
func (m *metadata) fetch(n *node, follow bool) (*Status, error) {
	m.stats.StatCalls++
	flags := unix.AT_SYMLINK_NOFOLLOW
	if follow {
		flags = 0
	}

	var st unix.Stat_t
	var err error
	if n.parent == nil {
		err = unix.Fstatat(unix.AT_FDCWD, n.path, &st, flags)
	} else {
		var h *dirHandle
		h, err = m.cache.acquire(n.parent)
		if err != nil {
			return nil, wrapEntryErr(n, err)
		}
		err = unix.Fstatat(h.fd(), n.name, &st, flags)
		m.cache.release(h)
	}
	if err != nil {
		return nil, wrapEntryErr(n, err)
	}
	return statusFromSys(&st), nil
}

// readlink reads the raw symlink target of n relative to its parent handle.
func (m *metadata) readlink(n *node) (string, error) {
	buf := make([]byte, 256)
	for {
		var sz int
		var err error
		if n.parent == nil {
			sz, err = unix.Readlinkat(unix.AT_FDCWD, n.path, buf)
		} else {
			var h *dirHandle
			h, err = m.cache.acquire(n.parent)
			if err != nil {
				return "", wrapEntryErr(n, err)
			}
			sz, err = unix.Readlinkat(h.fd(), n.name, buf)
			m.cache.release(h)
		}
		if err != nil {
			return "", wrapEntryErr(n, err)
		}
		if sz < len(buf) {
			return string(buf[:sz]), nil
		}
		buf = make([]byte, 2*len(buf))
	}
}
