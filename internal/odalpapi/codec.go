// Package odalpapi implements the binary UDP query protocol spoken by
// Odamex-family game servers and their master list servers. The codec
// is pure framing/decoding logic; the socket side lives in query.go.
package odalpapi

import (
	"errors"
	"fmt"
	"strconv"
)

// Wire constants. The response header packs four fields into one
// little-endian uint32: tag id (12 bits), application id (4 bits),
// query/response id (4 bits), packet type (low 16 bits, masked).
const (
	tagID = 0xAD0

	tagAppServer  = 1
	tagAppMaster  = 3
	tagQRQuery    = 1
	tagQRResponse = 2
	tagPacketType = 2

	// ServerChallenge is the packed query tag a launcher sends to a
	// game server: tag 0xAD0, application server, id query, type 2.
	ServerChallenge = tagID<<20 | tagAppServer<<16 | tagQRQuery<<12 | tagPacketType

	// MasterChallenge is the legacy launcher challenge understood by
	// the master list server.
	MasterChallenge = 777123
)

// Minimum server version the codec will talk to. Servers below this
// respond with an incompatible body layout and should be delisted.
const (
	minVersionMajor = 0
	minVersionMinor = 8
)

// Packed version decomposition used by the protocol.
func versionMajor(v uint32) uint32 { return v / 256 }
func versionMinor(v uint32) uint32 { return (v % 256) / 10 }
func versionPatch(v uint32) uint32 { return (v % 256) % 10 }

// CVAR payload type tags, in wire order.
const (
	cvarTypeNone = iota
	cvarTypeBool
	cvarTypeByte
	cvarTypeWord
	cvarTypeInt
	cvarTypeFloat
	cvarTypeString
)

// Game modes with a team section in the response body.
const (
	gameTypeTeamDeathmatch = 2
	gameTypeCTF            = 3
)

// Well-known CVARs hoisted into top-level Result fields.
const (
	cvarHostname   = "sv_hostname"
	cvarMaxPlayers = "sv_maxplayers"
	cvarMaxClients = "sv_maxclients"
	cvarGameType   = "sv_gametype"
	cvarScoreLimit = "sv_scorelimit"
	cvarTimeLimit  = "sv_timelimit"
	cvarLives      = "g_lives"
	cvarSides      = "g_sides"
)

// ErrServerTooOld marks a server answering with a version below the
// codec minimum. Distinct from a decode failure: the server is alive
// but should be delisted, not retried.
var ErrServerTooOld = errors.New("odalpapi: server version too old, should be delisted")

// Cvar is one decoded configuration variable. Numeric payloads are
// rendered to their decimal string; floats arrive as strings on the
// wire and callers parse them when a number is semantically expected.
type Cvar struct {
	Name  string
	Type  uint8
	Value string
}

// Team is one entry of the team section (team modes only).
type Team struct {
	Name  string
	Color uint32
	Score uint16
}

// Wad is one loaded WAD file with its hash.
type Wad struct {
	Name string
	Hash string
}

// Player is one connected player. Team is only meaningful when the
// decoded game type is team-based.
type Player struct {
	Team      uint8
	Ping      uint16
	Time      uint16
	Spectator bool
	Frags     uint16
	Kills     uint16
	Deaths    uint16
}

// Result is one decoded server response. Constructed fresh per query.
type Result struct {
	Address string

	Version             uint32 // packed server version
	ProtocolVersion     uint32
	Uptime              uint32
	RealProtocolVersion uint32
	VersionString       string

	Cvars        []Cvar
	PasswordHash string
	CurrentMap   string
	TimeLeft     uint16
	Teams        []Team
	Patches      []string
	Wads         []Wad
	Players      []Player

	// Hoisted from well-known CVARs so callers never re-scan the list.
	Name       string
	MaxPlayers int
	MaxClients int
	GameType   int
	ScoreLimit int
	TimeLimit  float64
	Lives      int
	Sides      int

	Responded bool
}

// MasterEntry is one server address from a master list response.
type MasterEntry struct {
	IP   string
	Port uint16
}

// EncodeChallenge renders the 4-byte server query datagram.
func EncodeChallenge() []byte {
	var w writer
	w.u32(ServerChallenge)
	return w.bytes()
}

// EncodeMasterChallenge renders the 4-byte master list query datagram.
func EncodeMasterChallenge() []byte {
	var w writer
	w.u32(MasterChallenge)
	return w.bytes()
}

// DecodeResponse parses one server response datagram into a Result.
// Errors cover truncation, tag mismatches and the version gate; the
// caller converts any error into Responded=false.
func DecodeResponse(buf []byte) (res *Result, err error) {
	// A malformed packet must surface as a failed check, never crash
	// the dispatcher, so the decode boundary also absorbs panics.
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("odalpapi: decode panic: %v", p)
		}
	}()

	r := newReader(buf)
	res = &Result{}

	header, err := r.u32()
	if err != nil {
		return nil, err
	}
	if tag := (header >> 20) & 0xFFF; tag != tagID {
		return nil, fmt.Errorf("odalpapi: bad tag id 0x%03X (want 0x%03X)", tag, tagID)
	}
	app := (header >> 16) & 0xF
	qr := (header >> 12) & 0xF
	ptype := header & 0xFFFF
	if app != tagAppServer || qr != tagQRResponse || ptype&0xFFF != tagPacketType {
		return nil, fmt.Errorf("odalpapi: unexpected header app=%d qr=%d type=0x%X", app, qr, ptype)
	}

	if res.Version, err = r.u32(); err != nil {
		return nil, err
	}
	if res.ProtocolVersion, err = r.u32(); err != nil {
		return nil, err
	}
	if res.Version == 0 {
		return nil, errors.New("odalpapi: server reported version 0")
	}
	if versionMajor(res.Version) < minVersionMajor ||
		(versionMajor(res.Version) == minVersionMajor && versionMinor(res.Version) < minVersionMinor) {
		return nil, fmt.Errorf("%w: %d.%d.%d", ErrServerTooOld,
			versionMajor(res.Version), versionMinor(res.Version), versionPatch(res.Version))
	}

	if err := decodeBody(r, res); err != nil {
		return nil, err
	}

	res.Responded = true
	return res, nil
}

// decodeBody reads the strictly sequential response body after the
// header and version fields.
func decodeBody(r *reader, res *Result) error {
	var err error
	if res.Uptime, err = r.u32(); err != nil {
		return err
	}
	if res.RealProtocolVersion, err = r.u32(); err != nil {
		return err
	}
	if res.VersionString, err = r.str(); err != nil {
		return err
	}

	cvarCount, err := r.u8()
	if err != nil {
		return err
	}
	for i := 0; i < int(cvarCount); i++ {
		cvar, err := decodeCvar(r)
		if err != nil {
			return err
		}
		res.Cvars = append(res.Cvars, cvar)
		hoistCvar(res, cvar)
	}

	if res.PasswordHash, err = r.hexStr(); err != nil {
		return err
	}
	if res.CurrentMap, err = r.str(); err != nil {
		return err
	}

	if res.TimeLimit > 0 {
		if res.TimeLeft, err = r.u16(); err != nil {
			return err
		}
	}

	teamGame := res.GameType == gameTypeTeamDeathmatch || res.GameType == gameTypeCTF
	if teamGame {
		teamCount, err := r.u8()
		if err != nil {
			return err
		}
		for i := 0; i < int(teamCount); i++ {
			var t Team
			if t.Name, err = r.str(); err != nil {
				return err
			}
			if t.Color, err = r.u32(); err != nil {
				return err
			}
			if t.Score, err = r.u16(); err != nil {
				return err
			}
			res.Teams = append(res.Teams, t)
		}
	}

	patchCount, err := r.u8()
	if err != nil {
		return err
	}
	for i := 0; i < int(patchCount); i++ {
		p, err := r.str()
		if err != nil {
			return err
		}
		res.Patches = append(res.Patches, p)
	}

	wadCount, err := r.u8()
	if err != nil {
		return err
	}
	for i := 0; i < int(wadCount); i++ {
		var wad Wad
		if wad.Name, err = r.str(); err != nil {
			return err
		}
		if wad.Hash, err = r.hexStr(); err != nil {
			return err
		}
		res.Wads = append(res.Wads, wad)
	}

	playerCount, err := r.u8()
	if err != nil {
		return err
	}
	for i := 0; i < int(playerCount); i++ {
		var p Player
		if teamGame {
			if p.Team, err = r.u8(); err != nil {
				return err
			}
		}
		if p.Ping, err = r.u16(); err != nil {
			return err
		}
		if p.Time, err = r.u16(); err != nil {
			return err
		}
		spec, err := r.u8()
		if err != nil {
			return err
		}
		p.Spectator = spec != 0
		if p.Frags, err = r.u16(); err != nil {
			return err
		}
		if p.Kills, err = r.u16(); err != nil {
			return err
		}
		if p.Deaths, err = r.u16(); err != nil {
			return err
		}
		res.Players = append(res.Players, p)
	}

	return nil
}

// decodeCvar reads one name + type tag + type-dependent payload.
func decodeCvar(r *reader) (Cvar, error) {
	var cvar Cvar
	var err error
	if cvar.Name, err = r.str(); err != nil {
		return cvar, err
	}
	if cvar.Type, err = r.u8(); err != nil {
		return cvar, err
	}

	switch int(cvar.Type) {
	case cvarTypeBool:
		// Presence of a bool CVAR means true; no payload follows.
		cvar.Value = "1"
	case cvarTypeByte:
		v, err := r.u8()
		if err != nil {
			return cvar, err
		}
		cvar.Value = strconv.Itoa(int(v))
	case cvarTypeWord:
		v, err := r.u16()
		if err != nil {
			return cvar, err
		}
		cvar.Value = strconv.Itoa(int(v))
	case cvarTypeInt:
		v, err := r.u32()
		if err != nil {
			return cvar, err
		}
		cvar.Value = strconv.Itoa(int(int32(v)))
	case cvarTypeFloat, cvarTypeString:
		if cvar.Value, err = r.str(); err != nil {
			return cvar, err
		}
	case cvarTypeNone:
		cvar.Value = ""
	default:
		return cvar, fmt.Errorf("odalpapi: unknown cvar type %d for %q", cvar.Type, cvar.Name)
	}

	return cvar, nil
}

// hoistCvar copies well-known CVARs into the Result's top-level fields
// as they stream past.
func hoistCvar(res *Result, cvar Cvar) {
	switch cvar.Name {
	case cvarHostname:
		res.Name = cvar.Value
	case cvarMaxPlayers:
		res.MaxPlayers = atoiSafe(cvar.Value)
	case cvarMaxClients:
		res.MaxClients = atoiSafe(cvar.Value)
	case cvarGameType:
		res.GameType = atoiSafe(cvar.Value)
	case cvarScoreLimit:
		res.ScoreLimit = atoiSafe(cvar.Value)
	case cvarTimeLimit:
		if f, err := strconv.ParseFloat(cvar.Value, 64); err == nil {
			res.TimeLimit = f
		}
	case cvarLives:
		res.Lives = atoiSafe(cvar.Value)
	case cvarSides:
		res.Sides = atoiSafe(cvar.Value)
	}
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// DecodeMasterResponse parses a master list response: a header uint32,
// a count uint16, then repeating {4 raw IPv4 octets, uint16 LE port}
// records. Decoding stops once fewer than 6 bytes remain.
func DecodeMasterResponse(buf []byte) ([]MasterEntry, error) {
	r := newReader(buf)

	if _, err := r.u32(); err != nil {
		return nil, err
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}

	entries := make([]MasterEntry, 0, count)
	for i := 0; i < int(count) && r.remaining() >= 6; i++ {
		a, _ := r.u8()
		b, _ := r.u8()
		c, _ := r.u8()
		d, _ := r.u8()
		port, err := r.u16()
		if err != nil {
			return nil, err
		}
		entries = append(entries, MasterEntry{
			IP:   fmt.Sprintf("%d.%d.%d.%d", a, b, c, d),
			Port: port,
		})
	}

	return entries, nil
}
