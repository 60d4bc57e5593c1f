package engine

import (
	"encoding/gob"
	"math/rand"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/hashicorp/go-multierror"
	"github.com/notnil/chess"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var numCPU = runtime.NumCPU()

// Weights holds the trained parameters of the policy network: a two layer
// perceptron mapping the encoded position to a score per action.
type Weights struct {
	W0 *tensor.Dense // (hidden, features)
	B0 *tensor.Dense // (hidden)
	W1 *tensor.Dense // (actions, hidden)
	B1 *tensor.Dense // (actions)
}

// LoadWeights loads gob-encoded weights from filename.
func LoadWeights(filename string) (*Weights, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var w Weights
	dec := gob.NewDecoder(f)
	if err := dec.Decode(&w); err != nil {
		return nil, errors.WithStack(err)
	}
	return &w, nil
}

// SaveWeights writes gob-encoded weights to filename.
func SaveWeights(filename string, w *Weights) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0544)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	return enc.Encode(w)
}

// machine is one forward-only expression graph plus the tape machine that
// runs it. A machine serves one inference at a time.
type machine struct {
	vm    gorgonia.VM
	input *gorgonia.Node
	out   gorgonia.Value
}

func newMachine(conf Config, w *Weights) (*machine, error) {
	g := gorgonia.NewGraph()
	input := gorgonia.NewVector(g, tensor.Float32, gorgonia.WithShape(conf.Features), gorgonia.WithName("input"))
	w0 := gorgonia.NodeFromAny(g, w.W0, gorgonia.WithName("w0"))
	b0 := gorgonia.NodeFromAny(g, w.B0, gorgonia.WithName("b0"))
	w1 := gorgonia.NodeFromAny(g, w.W1, gorgonia.WithName("w1"))
	b1 := gorgonia.NodeFromAny(g, w.B1, gorgonia.WithName("b1"))

	h, err := gorgonia.Mul(w0, input)
	if err != nil {
		return nil, errors.Wrap(err, "building hidden layer")
	}
	if h, err = gorgonia.Add(h, b0); err != nil {
		return nil, errors.Wrap(err, "building hidden layer")
	}
	if h, err = gorgonia.Rectify(h); err != nil {
		return nil, errors.Wrap(err, "building hidden layer")
	}

	logits, err := gorgonia.Mul(w1, h)
	if err != nil {
		return nil, errors.Wrap(err, "building output layer")
	}
	if logits, err = gorgonia.Add(logits, b1); err != nil {
		return nil, errors.Wrap(err, "building output layer")
	}

	m := &machine{input: input}
	gorgonia.Read(logits, &m.out)
	m.vm = gorgonia.NewTapeMachine(g)
	return m, nil
}

// infer scores every action for the encoded position.
func (m *machine) infer(encoded []float32) ([]float32, error) {
	t := tensor.New(tensor.WithBacking(encoded), tensor.WithShape(len(encoded)))
	if err := gorgonia.Let(m.input, t); err != nil {
		return nil, errors.Wrap(err, "binding input")
	}
	if err := m.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "running policy network")
	}
	defer m.vm.Reset()

	scores, ok := m.out.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected policy output type %T", m.out.Data())
	}
	out := make([]float32, len(scores))
	copy(out, scores)
	return out, nil
}

// Policy is a move oracle backed by the policy network. It does no search:
// legal moves are scored in a single forward pass and the move is sampled
// from the few near the top. A pool of machines serves concurrent games.
type Policy struct {
	conf     Config
	moves    *Moves
	machines chan *machine
	all      []*machine

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPolicy builds a policy oracle from a config, an action space and
// trained weights.
func NewPolicy(conf Config, moves *Moves, w *Weights) (*Policy, error) {
	if !conf.IsValid() {
		return nil, errors.New("invalid policy config")
	}
	p := &Policy{
		conf:     conf,
		moves:    moves,
		machines: make(chan *machine, numCPU),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := 0; i < numCPU; i++ {
		m, err := newMachine(conf, w)
		if err != nil {
			return nil, err
		}
		p.all = append(p.all, m)
		p.machines <- m
	}
	return p, nil
}

// LoadPolicy builds a policy oracle from a moves file and a gob weights file.
func LoadPolicy(modelFile, movesFile string) (*Policy, error) {
	moves, err := ReadMoves(movesFile)
	if err != nil {
		return nil, err
	}
	w, err := LoadWeights(modelFile)
	if err != nil {
		return nil, err
	}
	return NewPolicy(DefaultConfig(moves.Len()), moves, w)
}

// ChooseMove scores the position in one forward pass, softmaxes the logits
// of the legal moves and samples uniformly among the moves whose probability
// is within a small span of the best one. The span widens in the opening so
// early games don't all follow the same line. Legal moves missing from the
// action space are invisible to the network; if none are visible at all, a
// random legal move is played.
func (p *Policy) ChooseMove(g *chess.Game) (string, error) {
	legal := g.ValidMoves()
	if len(legal) == 0 {
		return "", errors.New("no legal moves")
	}

	m := <-p.machines
	scores, err := m.infer(Encode(g.Position()))
	p.machines <- m
	if err != nil {
		return "", err
	}

	var ucis []string
	var logits []float32
	for _, mv := range legal {
		uci := mv.String()
		idx, ok := p.moves.Index(uci)
		if !ok || idx >= len(scores) {
			continue
		}
		s := scores[idx]
		if math32.IsNaN(s) || math32.IsInf(s, 0) {
			continue
		}
		ucis = append(ucis, uci)
		logits = append(logits, s)
	}
	if len(ucis) == 0 {
		return legal[p.randIntn(len(legal))].String(), nil
	}

	probs := softmax(logits)
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return probs[order[i]] > probs[order[j]] })

	fullmove := len(g.Moves())/2 + 1
	span := float32(0.01)
	if fullmove < 10 {
		span = float32(11-fullmove) / 100
	}

	top := probs[order[0]]
	keep := 0
	for _, idx := range order {
		if top-probs[idx] > span || keep == 5 {
			break
		}
		keep++
	}

	return ucis[order[p.randIntn(keep)]], nil
}

func (p *Policy) randIntn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Intn(n)
}

func softmax(logits []float32) []float32 {
	max := math32.Inf(-1)
	for _, l := range logits {
		if l > max {
			max = l
		}
	}
	var sum float32
	probs := make([]float32, len(logits))
	for i, l := range logits {
		probs[i] = math32.Exp(l - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Close releases every tape machine.
func (p *Policy) Close() error {
	close(p.machines)
	var errs error
	for _, m := range p.all {
		if err := m.vm.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
