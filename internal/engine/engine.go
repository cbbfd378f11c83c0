// SPDX-License-Identifier: MIT

// Package engine resolves which concrete STT, translation and TTS
// providers serve a job and in what fallback order. The dispatcher
// never performs calls itself; it hands back ordered specs that the
// pipeline walks.
package engine

// Stage identifies a pipeline stage with pluggable engines.
type Stage string

const (
	StageSTT       Stage = "stt"
	StageTranslate Stage = "translate"
	StageTTS       Stage = "tts"
)

// Locality says where an engine runs. Local engines contend for the
// GPU gate; remote ones do not.
type Locality string

const (
	LocalityLocal  Locality = "local"
	LocalityRemote Locality = "remote"
)

// Spec describes one engine in a resolved fallback chain.
type Spec struct {
	Stage Stage
	ID    string

	Locality Locality

	// NeedsCredential marks engines that require an API key. The
	// resolver only emits such specs when the credential is present.
	NeedsCredential bool

	// SupportsClone marks TTS engines capable of voice cloning.
	SupportsClone bool
}

// Settings is the per-job engine selection input.
type Settings struct {
	// STTEngine, TranslateEngine and TTSEngine are explicit engine
	// ids, or "auto" (also the zero value) for rule-based selection.
	STTEngine       string
	TranslateEngine string
	TTSEngine       string

	// SourceLang is the spoken language, empty for auto-detect.
	SourceLang string
	// TargetLang is the dubbing language.
	TargetLang string

	// CloneVoice requests that the synthesized voice match the
	// original speaker.
	CloneVoice bool
}

// CredentialChecker reports whether an API credential for the named
// provider is configured. Satisfied by config.Config.
type CredentialChecker interface {
	HasCredential(provider string) bool
}

// Resolver applies the selection rules.
type Resolver struct {
	creds CredentialChecker
}

// NewResolver creates a Resolver backed by the given credential set.
func NewResolver(creds CredentialChecker) *Resolver {
	return &Resolver{creds: creds}
}

// Resolve returns the ordered fallback chain for one stage of one job.
// The first spec is the preferred engine; callers advance down the
// chain on failure. The chain is never empty for translate and tts;
// stt always ends on the local whisper engine.
func (r *Resolver) Resolve(stage Stage, s Settings) []Spec {
	switch stage {
	case StageSTT:
		return r.resolveSTT(s)
	case StageTranslate:
		return r.resolveTranslate(s)
	case StageTTS:
		return r.resolveTTS(s)
	}
	return nil
}

func (r *Resolver) resolveSTT(s Settings) []Spec {
	if explicit := s.STTEngine; explicit != "" && explicit != "auto" {
		return []Spec{sttSpec(explicit)}
	}

	local := sttSpec("whisper")
	var remotes []Spec
	if r.creds.HasCredential("groq") {
		remotes = append(remotes, sttSpec("groq"))
	}
	if r.creds.HasCredential("openai") {
		remotes = append(remotes, sttSpec("openai"))
	}

	// English and Russian transcribe well on the fast remote models.
	// CJK and auto-detect need the local large model's accuracy.
	switch s.SourceLang {
	case "en", "ru":
		return append(remotes, local)
	default:
		return append([]Spec{local}, remotes...)
	}
}

func (r *Resolver) resolveTranslate(s Settings) []Spec {
	if explicit := s.TranslateEngine; explicit != "" && explicit != "auto" {
		return []Spec{mtSpec(explicit)}
	}

	var chain []Spec
	if r.creds.HasCredential("gemini") {
		chain = append(chain, mtSpec("gemini"))
	}
	if r.creds.HasCredential("groq") {
		chain = append(chain, mtSpec("groq"))
	}
	// Local Ollama terminates every chain; it has no quota to exhaust.
	return append(chain, mtSpec("ollama"))
}

func (r *Resolver) resolveTTS(s Settings) []Spec {
	if explicit := s.TTSEngine; explicit != "" && explicit != "auto" {
		return []Spec{ttsSpec(explicit)}
	}

	var chain []Spec
	add := func(id string) {
		for _, sp := range chain {
			if sp.ID == id {
				return
			}
		}
		chain = append(chain, ttsSpec(id))
	}

	hasEleven := r.creds.HasCredential("elevenlabs")

	if s.CloneVoice {
		// Cloning-capable engines win, best remote first.
		if hasEleven {
			add("elevenlabs")
		}
		add("xtts")
		add("edge") // last resort, clone request degrades to a stock voice
		return chain
	}

	if hasEleven {
		add("elevenlabs")
	}
	switch s.TargetLang {
	case "ko":
		add("edge")
	case "ru":
		add("silero")
		add("edge")
	case "en", "ja":
		add("xtts")
		add("edge")
	default:
		add("edge")
	}
	return chain
}

func sttSpec(id string) Spec {
	sp := Spec{Stage: StageSTT, ID: id, Locality: LocalityRemote, NeedsCredential: true}
	if id == "whisper" {
		sp.Locality = LocalityLocal
		sp.NeedsCredential = false
	}
	return sp
}

func mtSpec(id string) Spec {
	sp := Spec{Stage: StageTranslate, ID: id, Locality: LocalityRemote, NeedsCredential: true}
	if id == "ollama" {
		sp.Locality = LocalityLocal
		sp.NeedsCredential = false
	}
	return sp
}

func ttsSpec(id string) Spec {
	sp := Spec{Stage: StageTTS, ID: id}
	switch id {
	case "xtts":
		sp.Locality = LocalityLocal
		sp.SupportsClone = true
	case "silero":
		sp.Locality = LocalityLocal
	case "elevenlabs":
		sp.Locality = LocalityRemote
		sp.NeedsCredential = true
		sp.SupportsClone = true
	case "openai":
		sp.Locality = LocalityRemote
		sp.NeedsCredential = true
	default: // edge
		sp.Locality = LocalityRemote
	}
	return sp
}
