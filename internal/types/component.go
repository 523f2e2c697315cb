package types

type ComponentType string

const (
	TypeFade            ComponentType = "fade"
	TypeFlyTo           ComponentType = "flyto"
	TypeStatusPanel     ComponentType = "statuspanel"
	TypeTimePanel       ComponentType = "timepanel"
	TypeNavPanel        ComponentType = "navpanel"
	TypeRecordPanel     ComponentType = "recordpanel"
	TypeSessionPlayback ComponentType = "sessionplayback"
	TypeSetTime         ComponentType = "settime"
	TypeSetNavState     ComponentType = "setnavstate"
	TypeSetFocus        ComponentType = "setfocus"
	TypeRichText        ComponentType = "richtext"
	TypeTitle           ComponentType = "title"
	TypeVideo           ComponentType = "video"
	TypeImage           ComponentType = "image"
	TypeBoolean         ComponentType = "boolean"
	TypeNumber          ComponentType = "number"
	TypeTrigger         ComponentType = "trigger"
	TypePage            ComponentType = "page"
	TypeMulti           ComponentType = "multi"
)

// Toggle is the action verb of boolean and fade components.
type Toggle string

const (
	ToggleOn     Toggle = "on"
	ToggleOff    Toggle = "off"
	ToggleToggle Toggle = "toggle"
)

// MultiState tags a component with its membership in a Multi composite.
// Pending values only exist while a Multi edit session is open.
type MultiState string

const (
	MultiFalse         MultiState = "false"
	MultiPendingSave   MultiState = "pendingSave"
	MultiPendingDelete MultiState = "pendingDelete"
	MultiTrue          MultiState = "true"
)

func (m MultiState) Valid() bool {
	switch m {
	case MultiFalse, MultiPendingSave, MultiPendingDelete, MultiTrue:
		return true
	}
	return false
}

func (m MultiState) IsPending() bool {
	return m == MultiPendingSave || m == MultiPendingDelete
}

// Hidden reports whether the component is suppressed from independent
// rendering. pendingSave renders like true, pendingDelete like false.
func (m MultiState) Hidden() bool {
	return m == MultiTrue || m == MultiPendingSave
}

// Geometry is the placement of a component on the snapped grid.
type Geometry struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	MinWidth  float64 `json:"minWidth"`
	MinHeight float64 `json:"minHeight"`
}

// Base holds the fields every component variant shares.
type Base struct {
	ID             string        `json:"id"`
	Type           ComponentType `json:"type"`
	GuiName        string        `json:"gui_name"`
	GuiDescription string        `json:"gui_description"`
	IsMulti        MultiState    `json:"isMulti"`
	LockName       bool          `json:"lockName,omitempty"`
	ParentPage     string        `json:"parentPage,omitempty"`
	Geometry
}

func (b *Base) Common() *Base { return b }

func (b *Base) sealed() {}

// Component is the closed set of component variants. Every variant embeds
// Base; the set is closed by the unexported sealed method.
type Component interface {
	Common() *Base
	Kind() ComponentType
	Clone() Component
	sealed()
}

type FadeComponent struct {
	Base
	Property        string  `json:"property"`
	IntDuration     float64 `json:"intDuration"`
	Action          Toggle  `json:"action"`
	BackgroundImage string  `json:"backgroundImage"`
}

type FlyToComponent struct {
	Base
	Target          string  `json:"target,omitempty"`
	Geo             bool    `json:"geo,omitempty"`
	IntDuration     float64 `json:"intDuration,omitempty"`
	Lat             float64 `json:"lat,omitempty"`
	Long            float64 `json:"long,omitempty"`
	Alt             float64 `json:"alt,omitempty"`
	BackgroundImage string  `json:"backgroundImage"`
}

type SetTimeComponent struct {
	Base
	Time            string  `json:"time"`
	IntDuration     float64 `json:"intDuration"`
	Interpolate     bool    `json:"interpolate"`
	FadeScene       bool    `json:"fadeScene"`
	BackgroundImage string  `json:"backgroundImage"`
}

type SetNavComponent struct {
	Base
	NavigationState map[string]any `json:"navigationState"`
	Time            string         `json:"time"`
	SetTime         bool           `json:"setTime"`
	FadeScene       bool           `json:"fadeScene"`
	IntDuration     float64        `json:"intDuration"`
	BackgroundImage string         `json:"backgroundImage"`
}

type SetFocusComponent struct {
	Base
	Property        string `json:"property"`
	BackgroundImage string `json:"backgroundImage"`
}

type SessionPlaybackComponent struct {
	Base
	File            string `json:"file"`
	Loop            bool   `json:"loop"`
	ForceTime       bool   `json:"forceTime"`
	BackgroundImage string `json:"backgroundImage"`
}

type PageComponent struct {
	Base
	Page            int    `json:"page"`
	BackgroundImage string `json:"backgroundImage"`
}

// MultiStep is one step of a Multi composite. Component is a weak reference
// to a member id in the component table.
type MultiStep struct {
	Component string  `json:"component"`
	Buffer    float64 `json:"buffer"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Chained   bool    `json:"chained"`
}

type MultiComponent struct {
	Base
	Components      []MultiStep `json:"components"`
	BackgroundImage string      `json:"backgroundImage"`
}

// Members returns the member ids in step order.
func (m *MultiComponent) Members() []string {
	ids := make([]string, 0, len(m.Components))
	for _, s := range m.Components {
		ids = append(ids, s.Component)
	}
	return ids
}

type BooleanComponent struct {
	Base
	Property        string `json:"property"`
	Action          Toggle `json:"action"`
	BackgroundImage string `json:"backgroundImage"`
}

type NumberComponent struct {
	Base
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	Step            float64 `json:"step"`
	Exponent        float64 `json:"exponent"`
	Property        string  `json:"property"`
	BackgroundImage string  `json:"backgroundImage"`
}

type TriggerComponent struct {
	Base
	Property        string `json:"property"`
	BackgroundImage string `json:"backgroundImage"`
}

type RichTextComponent struct {
	Base
	Text string `json:"text"`
}

type TitleComponent struct {
	Base
	Text string `json:"text"`
}

type VideoComponent struct {
	Base
	URL string `json:"url"`
}

type ImageComponent struct {
	Base
	URL string `json:"url"`
}

type TimePanelComponent struct{ Base }

type NavPanelComponent struct{ Base }

type StatusPanelComponent struct{ Base }

type RecordPanelComponent struct{ Base }

func (*FadeComponent) Kind() ComponentType            { return TypeFade }
func (*FlyToComponent) Kind() ComponentType           { return TypeFlyTo }
func (*SetTimeComponent) Kind() ComponentType         { return TypeSetTime }
func (*SetNavComponent) Kind() ComponentType          { return TypeSetNavState }
func (*SetFocusComponent) Kind() ComponentType        { return TypeSetFocus }
func (*SessionPlaybackComponent) Kind() ComponentType { return TypeSessionPlayback }
func (*PageComponent) Kind() ComponentType            { return TypePage }
func (*MultiComponent) Kind() ComponentType           { return TypeMulti }
func (*BooleanComponent) Kind() ComponentType         { return TypeBoolean }
func (*NumberComponent) Kind() ComponentType          { return TypeNumber }
func (*TriggerComponent) Kind() ComponentType         { return TypeTrigger }
func (*RichTextComponent) Kind() ComponentType        { return TypeRichText }
func (*TitleComponent) Kind() ComponentType           { return TypeTitle }
func (*VideoComponent) Kind() ComponentType           { return TypeVideo }
func (*ImageComponent) Kind() ComponentType           { return TypeImage }
func (*TimePanelComponent) Kind() ComponentType       { return TypeTimePanel }
func (*NavPanelComponent) Kind() ComponentType        { return TypeNavPanel }
func (*StatusPanelComponent) Kind() ComponentType     { return TypeStatusPanel }
func (*RecordPanelComponent) Kind() ComponentType     { return TypeRecordPanel }

func (c *FadeComponent) Clone() Component            { cp := *c; return &cp }
func (c *FlyToComponent) Clone() Component           { cp := *c; return &cp }
func (c *SetTimeComponent) Clone() Component         { cp := *c; return &cp }
func (c *SetFocusComponent) Clone() Component        { cp := *c; return &cp }
func (c *SessionPlaybackComponent) Clone() Component { cp := *c; return &cp }
func (c *PageComponent) Clone() Component            { cp := *c; return &cp }
func (c *BooleanComponent) Clone() Component         { cp := *c; return &cp }
func (c *NumberComponent) Clone() Component          { cp := *c; return &cp }
func (c *TriggerComponent) Clone() Component         { cp := *c; return &cp }
func (c *RichTextComponent) Clone() Component        { cp := *c; return &cp }
func (c *TitleComponent) Clone() Component           { cp := *c; return &cp }
func (c *VideoComponent) Clone() Component           { cp := *c; return &cp }
func (c *ImageComponent) Clone() Component           { cp := *c; return &cp }
func (c *TimePanelComponent) Clone() Component       { cp := *c; return &cp }
func (c *NavPanelComponent) Clone() Component        { cp := *c; return &cp }
func (c *StatusPanelComponent) Clone() Component     { cp := *c; return &cp }
func (c *RecordPanelComponent) Clone() Component     { cp := *c; return &cp }

func (c *SetNavComponent) Clone() Component {
	cp := *c
	if c.NavigationState != nil {
		cp.NavigationState = make(map[string]any, len(c.NavigationState))
		for k, v := range c.NavigationState {
			cp.NavigationState[k] = v
		}
	}
	return &cp
}

func (c *MultiComponent) Clone() Component {
	cp := *c
	cp.Components = append([]MultiStep(nil), c.Components...)
	return &cp
}

// NewComponent returns an empty variant for the given tag.
func NewComponent(t ComponentType) (Component, error) {
	var c Component
	switch t {
	case TypeFade:
		c = &FadeComponent{Action: ToggleToggle}
	case TypeFlyTo:
		c = &FlyToComponent{}
	case TypeSetTime:
		c = &SetTimeComponent{}
	case TypeSetNavState:
		c = &SetNavComponent{}
	case TypeSetFocus:
		c = &SetFocusComponent{}
	case TypeSessionPlayback:
		c = &SessionPlaybackComponent{}
	case TypePage:
		c = &PageComponent{}
	case TypeMulti:
		c = &MultiComponent{}
	case TypeBoolean:
		c = &BooleanComponent{Action: ToggleToggle}
	case TypeNumber:
		c = &NumberComponent{Max: 1, Step: 0.01, Exponent: 1}
	case TypeTrigger:
		c = &TriggerComponent{}
	case TypeRichText:
		c = &RichTextComponent{}
	case TypeTitle:
		c = &TitleComponent{}
	case TypeVideo:
		c = &VideoComponent{}
	case TypeImage:
		c = &ImageComponent{}
	case TypeTimePanel:
		c = &TimePanelComponent{}
	case TypeNavPanel:
		c = &NavPanelComponent{}
	case TypeStatusPanel:
		c = &StatusPanelComponent{}
	case TypeRecordPanel:
		c = &RecordPanelComponent{}
	default:
		return nil, &UnknownComponentTypeError{Type: string(t)}
	}
	b := c.Common()
	b.Type = t
	b.IsMulti = MultiFalse
	return c, nil
}

// IsMultiOption reports whether a component kind can be a member of a Multi.
func IsMultiOption(c Component) bool {
	switch c.(type) {
	case *TriggerComponent, *BooleanComponent, *FadeComponent, *SetFocusComponent,
		*FlyToComponent, *SetTimeComponent, *SessionPlaybackComponent,
		*SetNavComponent, *PageComponent:
		return true
	}
	return false
}

// Page is one screen of the control surface.
type Page struct {
	ID         string   `json:"id"`
	Components []string `json:"components"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
}

func (p Page) Clone() Page {
	p.Components = append([]string(nil), p.Components...)
	return p
}
