package colony

import (
	"fmt"
	"log/slog"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/pantheon/internal/entropy"
)

// Letter is a message sent to the player.
type Letter struct {
	Tick  int64  `json:"tick"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// maxLetters bounds the inbox; the oldest letters are dropped.
const maxLetters = 64

var rosterNames = []string{
	"Ada", "Bram", "Cora", "Dain", "Edda", "Finn", "Greta", "Hale",
	"Isla", "Jory", "Kesh", "Lune", "Mira", "Nils", "Orla", "Pike",
}

// Colony is an in-memory game world. It stands in for the real host when
// the scheduler runs headless. Mood wanders along simplex noise so that the
// daily mood snapshot has something to record.
type Colony struct {
	mu sync.Mutex

	seed      int64
	playing   bool
	tick      int64
	colonists []*Colonist
	research  bool
	progress  float64
	letters   []Letter

	noise   opensimplex.Noise
	rng     entropy.Source
	spawned int
}

// New creates a colony with n colonists. The seed drives both the mood
// noise and the roster.
func New(seed int64, n int, rng entropy.Source) *Colony {
	if rng == nil {
		rng = entropy.NewSeeded(seed)
	}
	c := &Colony{
		seed:    seed,
		playing: true,
		noise:   opensimplex.NewNormalized(seed),
		rng:     rng,
	}
	for i := 0; i < n; i++ {
		c.spawnLocked()
	}
	return c
}

// WorldSeed returns the seed the colony was generated from.
func (c *Colony) WorldSeed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seed
}

// Regenerate starts a new world with a fresh roster.
func (c *Colony) Regenerate(seed int64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seed = seed
	c.noise = opensimplex.NewNormalized(seed)
	c.colonists = nil
	c.spawned = 0
	c.progress = 0
	for i := 0; i < n; i++ {
		c.spawnLocked()
	}
	slog.Info("colony regenerated", "seed", seed, "colonists", n)
}

func (c *Colony) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// SetPlaying pauses or resumes the colony.
func (c *Colony) SetPlaying(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = on
}

// Colonists returns the roster, living and dead. The pointers are live.
func (c *Colony) Colonists() []*Colonist {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Colonist(nil), c.colonists...)
}

// Living returns the colonists still alive.
func (c *Colony) Living() []*Colonist {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.livingLocked()
}

func (c *Colony) livingLocked() []*Colonist {
	var out []*Colonist
	for _, col := range c.colonists {
		if !col.Dead {
			out = append(out, col)
		}
	}
	return out
}

// ResearchActive reports whether a research project is under way.
func (c *Colony) ResearchActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.research
}

// SetResearch starts or stops the current research project.
func (c *Colony) SetResearch(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.research = on
}

// BoostResearch adds one boost to the current project.
func (c *Colony) BoostResearch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.research {
		return
	}
	c.progress += 10
}

// ResearchProgress returns accumulated research points.
func (c *Colony) ResearchProgress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Notify posts a letter to the player.
func (c *Colony) Notify(title, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.letters = append(c.letters, Letter{Tick: c.tick, Title: title, Text: text})
	if len(c.letters) > maxLetters {
		c.letters = append([]Letter(nil), c.letters[len(c.letters)-maxLetters:]...)
	}
	slog.Info("letter", "title", title, "text", text)
}

// Letters returns the inbox, oldest first.
func (c *Colony) Letters() []Letter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Letter(nil), c.letters...)
}

// Advance moves the colony to tick. Mood follows the noise field, one row
// per colonist, sampled once per dayTicks.
func (c *Colony) Advance(tick, dayTicks int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = tick
	if dayTicks <= 0 {
		dayTicks = 1
	}
	t := float64(tick) / float64(dayTicks)
	for i, col := range c.colonists {
		if col.Dead {
			continue
		}
		drift := c.noise.Eval2(float64(i)*3.7, t) - 0.5
		col.Mood = clamp01(col.Mood + drift*0.01)
	}
}

// Spawn adds a new colonist and returns it.
func (c *Colony) Spawn() *Colonist {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawnLocked()
}

func (c *Colony) spawnLocked() *Colonist {
	name := rosterNames[c.spawned%len(rosterNames)]
	if round := c.spawned / len(rosterNames); round > 0 {
		name = fmt.Sprintf("%s %d", name, round+1)
	}
	c.spawned++

	gender := GenderMale
	if c.rng.Intn(2) == 1 {
		gender = GenderFemale
	}
	col := &Colonist{
		Name:   name,
		Gender: gender,
		Mood:   0.4 + c.rng.Float64()*0.3,
	}
	c.colonists = append(c.colonists, col)
	return col
}

// Find returns the colonist with the given name.
func (c *Colony) Find(name string) (*Colonist, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, col := range c.colonists {
		if col.Name == name {
			return col, true
		}
	}
	return nil, false
}

// Kill marks a colonist dead.
func (c *Colony) Kill(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, col := range c.colonists {
		if col.Name == name {
			if col.Dead {
				return fmt.Errorf("%s is already dead", name)
			}
			col.Dead = true
			col.Injuries = nil
			return nil
		}
	}
	return fmt.Errorf("no colonist named %q", name)
}

// pick returns a random living colonist.
func (c *Colony) pick() (*Colonist, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	living := c.livingLocked()
	if len(living) == 0 {
		return nil, false
	}
	return living[c.rng.Intn(len(living))], true
}

// shiftMood moves every living colonist's mood by delta.
func (c *Colony) shiftMood(delta float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, col := range c.livingLocked() {
		col.Mood = clamp01(col.Mood + delta)
		n++
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
