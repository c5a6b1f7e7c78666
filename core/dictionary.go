package core

import "sync"

// Constant represents a firmware constant exposed to the host.
type Constant struct {
	Name  string
	Value interface{}
}

// Dictionary manages the data dictionary the host retrieves at connect time
// through identify. The dictionary is plain JSON; the whole thing fits in a
// handful of identify chunks, so compression buys nothing here.
type Dictionary struct {
	mu         sync.RWMutex
	constants  map[string]*Constant
	commandReg *CommandRegistry
	version    string
	mcu        string
	cachedDict []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a new dictionary.
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:  make(map[string]*Constant),
		commandReg: cmdReg,
		version:    "tennisbutler-0.1.0",
		mcu:        "rp2040",
	}
}

// RegisterConstant registers a constant in the global dictionary.
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// AddConstant adds a constant to the dictionary.
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
}

// SetVersion sets the firmware version string.
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
}

// SetMCU sets the MCU name reported to the host.
func (d *Dictionary) SetMCU(mcu string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mcu = mcu
}

// BuildDictionary builds and caches the dictionary. Call after all commands
// and constants are registered; registrations after this point are not seen
// by the host.
func (d *Dictionary) BuildDictionary() {
	// Fetch from the registry before taking the dictionary lock so the two
	// locks are never held together.
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedDict = d.buildJSONLocked(commands, responses)
}

// Generate returns the dictionary bytes, building them if BuildDictionary
// has not run yet.
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cachedDict
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	commands, responses := d.commandReg.GetCommandsAndResponses()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildJSONLocked(commands, responses)
}

// buildJSONLocked renders the dictionary JSON. Caller must hold the lock.
// Built by hand so TinyGo does not have to carry encoding/json, and so the
// key order is deterministic.
func (d *Dictionary) buildJSONLocked(commands map[string]int, responses map[string]int) []byte {
	result := make([]byte, 0, 1024)

	result = append(result, []byte(`{"version":"`)...)
	result = append(result, []byte(d.version)...)
	result = append(result, []byte(`","mcu":"`)...)
	result = append(result, []byte(d.mcu)...)
	result = append(result, []byte(`","config":{`)...)

	first := true
	for _, name := range sortedKeys(d.constants) {
		c := d.constants[name]
		if !first {
			result = append(result, ',')
		}
		result = append(result, '"')
		result = append(result, []byte(name)...)
		result = append(result, []byte(`":"`)...)
		result = append(result, []byte(valueToString(c.Value))...)
		result = append(result, '"')
		first = false
	}
	result = append(result, []byte(`},"commands":{`)...)
	result = appendIDMap(result, commands)
	result = append(result, []byte(`},"responses":{`)...)
	result = appendIDMap(result, responses)
	result = append(result, '}', '}')

	return result
}

// appendIDMap renders a name-to-ID map as JSON object members, ordered by ID.
func appendIDMap(result []byte, m map[string]int) []byte {
	ids := make([]int, 0, len(m))
	for _, id := range m {
		ids = append(ids, id)
	}
	sortInts(ids)

	first := true
	for _, id := range ids {
		for format, fid := range m {
			if fid != id {
				continue
			}
			if !first {
				result = append(result, ',')
			}
			result = append(result, '"')
			result = append(result, []byte(format)...)
			result = append(result, []byte(`":`)...)
			result = append(result, []byte(itoa(id))...)
			first = false
			break
		}
	}
	return result
}

// sortedKeys returns the constant names in lexical order. Insertion sort
// keeps the sort package out of the TinyGo build.
func sortedKeys(m map[string]*Constant) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

func sortInts(ids []int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// GetChunk returns a chunk of the dictionary starting at offset. The chunk
// is a copy; the cached dictionary is never handed out by reference.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance.
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
