package core

import (
	"sort"
	"sync"

	"stmadc/adc"
	"stmadc/protocol"
	"stmadc/tinycompress"
)

// Dictionary describes the firmware to the host: protocol version,
// constants, enumerations and the command table. The host fetches it
// zlib compressed in chunks with identify.
type Dictionary struct {
	mu            sync.RWMutex
	reg           *CommandRegistry
	version       string
	buildVersions string
	constants     map[string]string
	enumerations  map[string][]string
	cached        []byte // compressed, built on first use
}

func NewDictionary(reg *CommandRegistry) *Dictionary {
	return &Dictionary{
		reg:           reg,
		version:       "stmadc-" + protocol.Version,
		buildVersions: "go-tinygo",
		constants:     make(map[string]string),
		enumerations:  make(map[string][]string),
	}
}

// AddConstant records a constant. Values are reported as strings.
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = valueToString(value)
	d.cached = nil
}

// AddEnumeration records a name to index mapping. Empty names are skipped
// in the output but keep their index.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = append([]string(nil), values...)
	d.cached = nil
}

func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cached = nil
}

// JSON returns the uncompressed dictionary.
func (d *Dictionary) JSON() []byte {
	cmds := d.reg.Commands()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildJSON(cmds)
}

func (d *Dictionary) buildJSON(cmds []*Command) []byte {
	out := make([]byte, 0, 1024)
	out = append(out, `{"version":`...)
	out = quoteJSON(out, d.version)
	out = append(out, `,"build_versions":`...)
	out = quoteJSON(out, d.buildVersions)

	out = append(out, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			out = append(out, ',')
		}
		out = quoteJSON(out, name)
		out = append(out, ':')
		out = quoteJSON(out, d.constants[name])
	}

	out = append(out, `},"commands":{`...)
	out = appendCommands(out, cmds, false)
	out = append(out, `},"responses":{`...)
	out = appendCommands(out, cmds, true)
	out = append(out, '}')

	if len(d.enumerations) > 0 {
		out = append(out, `,"enumerations":{`...)
		names := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			if i > 0 {
				out = append(out, ',')
			}
			out = quoteJSON(out, name)
			out = append(out, ":{"...)
			first := true
			for idx, v := range d.enumerations[name] {
				if v == "" {
					continue
				}
				if !first {
					out = append(out, ',')
				}
				out = quoteJSON(out, v)
				out = append(out, ':')
				out = append(out, itoa(idx)...)
				first = false
			}
			out = append(out, '}')
		}
		out = append(out, '}')
	}
	return append(out, '}')
}

func appendCommands(out []byte, cmds []*Command, responses bool) []byte {
	first := true
	for _, c := range cmds {
		if c.IsResponse() != responses {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		out = quoteJSON(out, c.Signature())
		out = append(out, ':')
		out = append(out, utoa(uint32(c.ID))...)
		first = false
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compressed returns the zlib stream served by identify. It is rebuilt
// after any change.
func (d *Dictionary) Compressed() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	cmds := d.reg.Commands()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached == nil {
		d.cached = tinycompress.Encode(d.buildJSON(cmds))
		adc.DebugPrintln("[DICT] built " + itoa(len(d.cached)) + " bytes")
	}
	return d.cached
}

// Chunk returns up to count bytes of the compressed dictionary from
// offset. Past the end it returns an empty chunk, which ends the host's
// download.
func (d *Dictionary) Chunk(offset uint32, count uint8) []byte {
	data := d.Compressed()
	if offset >= uint32(len(data)) {
		return nil
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}
