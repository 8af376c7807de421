package state

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/talgya/pantheon/internal/scheduler"
)

// formatVersion is written to the root element and checked on decode.
const formatVersion = 1

type xmlDurable struct {
	XMLName   xml.Name      `xml:"pantheon"`
	Version   int           `xml:"version,attr"`
	WorldSeed int64         `xml:"worldSeed,attr,omitempty"`
	Counters  []xmlCounter  `xml:"counters>counter"`
	SeenLog   *xmlSeenLog   `xml:"offeringLog"`
	Instances []xmlInstance `xml:"instances>instance"`
}

type xmlSeenLog struct {
	Lines []string `xml:"line"`
}

type xmlCounter struct {
	Name  string `xml:"name,attr"`
	Value int    `xml:"value,attr"`
}

type xmlInstance struct {
	Seed           int64       `xml:"seed,attr"`
	AltarState     int         `xml:"altarState,attr"`
	LastPolledTick int64       `xml:"lastPolledTick,attr"`
	Mood           []xmlMood   `xml:"mood>colonist"`
	Dead           []string    `xml:"dead>name"`
	Schedule       []xmlBucket `xml:"schedule>bucket"`
}

type xmlMood struct {
	Name    string  `xml:"name,attr"`
	Percent float64 `xml:"percent,attr"`
}

type xmlBucket struct {
	Tick    int64       `xml:"tick,attr"`
	Actions []xmlAction `xml:"action"`
}

// xmlAction stores an entry as its kind plus the EntryParams list.
type xmlAction struct {
	ID       string   `xml:"id,attr"`
	Kind     string   `xml:"kind,attr"`
	Attempts int      `xml:"attempts,attr,omitempty"`
	Params   []string `xml:"param"`
}

// Encode writes d as indented XML.
func Encode(w io.Writer, d *Durable) error {
	doc := xmlDurable{Version: formatVersion, WorldSeed: d.WorldSeed}
	if d.SeenLog != nil {
		doc.SeenLog = &xmlSeenLog{Lines: d.SeenLog}
	}
	for _, name := range d.Counters.Names() {
		doc.Counters = append(doc.Counters, xmlCounter{Name: name, Value: d.Counters[name]})
	}
	for _, seed := range d.Seeds() {
		doc.Instances = append(doc.Instances, encodeInstance(d.Instances[seed]))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func encodeInstance(inst *Instance) xmlInstance {
	out := xmlInstance{
		Seed:           inst.Seed,
		AltarState:     inst.AltarState,
		LastPolledTick: inst.LastPolledTick,
	}

	names := make([]string, 0, len(inst.Mood))
	for n := range inst.Mood {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out.Mood = append(out.Mood, xmlMood{Name: n, Percent: inst.Mood[n]})
	}

	for n, dead := range inst.Dead {
		if dead {
			out.Dead = append(out.Dead, n)
		}
	}
	sort.Strings(out.Dead)

	for _, tick := range inst.Schedule.Ticks() {
		b := xmlBucket{Tick: tick}
		for _, e := range inst.Schedule.Bucket(tick) {
			if e.Action.Kind() == scheduler.KindContinuation {
				continue
			}
			b.Actions = append(b.Actions, encodeEntry(e))
		}
		if len(b.Actions) > 0 {
			out.Schedule = append(out.Schedule, b)
		}
	}
	return out
}

func encodeEntry(e scheduler.Entry) xmlAction {
	return xmlAction{
		ID:       e.ID.String(),
		Kind:     e.Action.Kind().String(),
		Attempts: e.Attempts,
		Params:   EntryParams(e.Action),
	}
}

// EntryParams flattens a persistable action into its positional
// parameters: callGod [god, favor, announce], wrathCall [actor, gender],
// survivalReward [].
func EntryParams(a scheduler.Action) []string {
	switch a := a.(type) {
	case scheduler.CallGod:
		return []string{a.God, strconv.FormatBool(a.Favor), strconv.FormatBool(a.Announce)}
	case scheduler.WrathCall:
		return []string{a.Actor, a.Gender}
	}
	return nil
}

// Decode reads state written by Encode.
func Decode(r io.Reader) (*Durable, error) {
	var doc xmlDurable
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if doc.Version > formatVersion {
		return nil, fmt.Errorf("state format version %d is newer than %d", doc.Version, formatVersion)
	}

	d := New()
	d.WorldSeed = doc.WorldSeed
	if doc.SeenLog != nil {
		d.SeenLog = append([]string{}, doc.SeenLog.Lines...)
	}
	for _, c := range doc.Counters {
		d.Counters[c.Name] = c.Value
	}
	for _, xi := range doc.Instances {
		inst, err := decodeInstance(xi)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", xi.Seed, err)
		}
		d.Instances[inst.Seed] = inst
	}
	return d, nil
}

func decodeInstance(xi xmlInstance) (*Instance, error) {
	inst := NewInstance(xi.Seed)
	inst.AltarState = xi.AltarState
	inst.LastPolledTick = xi.LastPolledTick
	for _, m := range xi.Mood {
		inst.Mood[m.Name] = m.Percent
	}
	for _, n := range xi.Dead {
		inst.Dead[n] = true
	}
	for _, b := range xi.Schedule {
		for _, xa := range b.Actions {
			e, err := decodeEntry(xa)
			if err != nil {
				return nil, fmt.Errorf("bucket %d: %w", b.Tick, err)
			}
			inst.Schedule.Insert(0, b.Tick, e)
		}
	}
	return inst, nil
}

func decodeEntry(xa xmlAction) (scheduler.Entry, error) {
	return RebuildEntry(xa.ID, xa.Kind, xa.Attempts, xa.Params)
}

// RebuildEntry is the inverse of EntryParams. An unreadable id is replaced
// with a fresh one.
func RebuildEntry(rawID, rawKind string, attempts int, params []string) (scheduler.Entry, error) {
	kind, err := scheduler.ParseKind(rawKind)
	if err != nil {
		return scheduler.Entry{}, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		id = uuid.New()
	}
	e := scheduler.Entry{ID: id, Attempts: attempts}

	switch kind {
	case scheduler.KindCallGod:
		if len(params) != 3 {
			return e, fmt.Errorf("callGod wants 3 params, got %d", len(params))
		}
		favor, err := strconv.ParseBool(params[1])
		if err != nil {
			return e, fmt.Errorf("callGod favor: %w", err)
		}
		announce, err := strconv.ParseBool(params[2])
		if err != nil {
			return e, fmt.Errorf("callGod announce: %w", err)
		}
		e.Action = scheduler.CallGod{God: params[0], Favor: favor, Announce: announce}
	case scheduler.KindWrathCall:
		if len(params) != 2 {
			return e, fmt.Errorf("wrathCall wants 2 params, got %d", len(params))
		}
		e.Action = scheduler.WrathCall{Actor: params[0], Gender: params[1]}
	case scheduler.KindSurvivalReward:
		e.Action = scheduler.SurvivalReward{}
	default:
		return e, fmt.Errorf("kind %s is not persistable", kind)
	}
	return e, nil
}
