package query

import (
	"sort"
	"strings"
)

type App string

const (
	AppMail      App = "mail"
	AppCalendar  App = "calendar"
	AppFileStore App = "filestore"
	AppDirectory App = "directory"
	AppChat      App = "chat"
	AppExternal  App = "external"
)

// AllApps is the fixed app vocabulary.
var AllApps = []App{AppMail, AppCalendar, AppFileStore, AppDirectory, AppChat, AppExternal}

func ParseApp(s string) (App, bool) {
	for _, a := range AllApps {
		if string(a) == strings.ToLower(strings.TrimSpace(s)) {
			return a, true
		}
	}
	return "", false
}

type Entity string

const (
	EntityMessage     Entity = "message"
	EntityAttachment  Entity = "attachment"
	EntityEvent       Entity = "event"
	EntityDocument    Entity = "document"
	EntitySheet       Entity = "sheet"
	EntitySlide       Entity = "slide"
	EntityPDF         Entity = "pdf"
	EntityFolder      Entity = "folder"
	EntityContact     Entity = "contact"
	EntityChatMessage Entity = "chat_message"
)

// HomeApp is the app an entity kind lives in.
func (e Entity) HomeApp() App {
	switch e {
	case EntityMessage, EntityAttachment:
		return AppMail
	case EntityEvent:
		return AppCalendar
	case EntityDocument, EntitySheet, EntitySlide, EntityPDF, EntityFolder:
		return AppFileStore
	case EntityContact:
		return AppDirectory
	case EntityChatMessage:
		return AppChat
	}
	return AppExternal
}

// IsCalendarLike reports whether temporal direction is meaningful for these filters.
func (f Filters) IsCalendarLike() bool {
	return f.HasApp(AppCalendar) || f.HasEntity(EntityEvent)
}

type surfaceForm struct {
	words  []string
	app    App
	entity Entity
}

// Surface forms are matched longest-first on lowercased word tokens.
var surfaceForms = buildForms(map[string]surfaceForm{
	// apps
	"gmail":            {app: AppMail},
	"inbox":            {app: AppMail},
	"outlook":          {app: AppMail},
	"mailbox":          {app: AppMail},
	"calendar":         {app: AppCalendar},
	"schedule":         {app: AppCalendar},
	"agenda":           {app: AppCalendar},
	"drive":            {app: AppFileStore},
	"google drive":     {app: AppFileStore},
	"onedrive":         {app: AppFileStore},
	"dropbox":          {app: AppFileStore},
	"sharepoint":       {app: AppFileStore},
	"file store":       {app: AppFileStore},
	"directory":        {app: AppDirectory},
	"address book":     {app: AppDirectory},
	"org chart":        {app: AppDirectory},
	"slack":            {app: AppChat},
	"teams":            {app: AppChat},
	"chat":             {app: AppChat},
	"chats":            {app: AppChat},
	"channel":          {app: AppChat},
	"channels":         {app: AppChat},
	"crm":              {app: AppExternal},
	"salesforce":       {app: AppExternal},
	"jira":             {app: AppExternal},
	"github":           {app: AppExternal},
	"external":         {app: AppExternal},
	// entities
	"email":            {entity: EntityMessage},
	"emails":           {entity: EntityMessage},
	"e-mail":           {entity: EntityMessage},
	"e-mails":          {entity: EntityMessage},
	"mail":             {entity: EntityMessage},
	"mails":            {entity: EntityMessage},
	"message":          {entity: EntityMessage},
	"messages":         {entity: EntityMessage},
	"attachment":       {entity: EntityAttachment},
	"attachments":      {entity: EntityAttachment},
	"meeting":          {entity: EntityEvent},
	"meetings":         {entity: EntityEvent},
	"event":            {entity: EntityEvent},
	"events":           {entity: EntityEvent},
	"appointment":      {entity: EntityEvent},
	"appointments":     {entity: EntityEvent},
	"invite":           {entity: EntityEvent},
	"invites":          {entity: EntityEvent},
	"standup":          {entity: EntityEvent},
	"doc":              {entity: EntityDocument},
	"docs":             {entity: EntityDocument},
	"document":         {entity: EntityDocument},
	"documents":        {entity: EntityDocument},
	"file":             {entity: EntityDocument},
	"files":            {entity: EntityDocument},
	"sheet":            {entity: EntitySheet},
	"sheets":           {entity: EntitySheet},
	"spreadsheet":      {entity: EntitySheet},
	"spreadsheets":     {entity: EntitySheet},
	"slide":            {entity: EntitySlide},
	"slides":           {entity: EntitySlide},
	"deck":             {entity: EntitySlide},
	"decks":            {entity: EntitySlide},
	"presentation":     {entity: EntitySlide},
	"presentations":    {entity: EntitySlide},
	"pdf":              {entity: EntityPDF},
	"pdfs":             {entity: EntityPDF},
	"folder":           {entity: EntityFolder},
	"folders":          {entity: EntityFolder},
	"contact":          {entity: EntityContact},
	"contacts":         {entity: EntityContact},
	"chat message":     {entity: EntityChatMessage},
	"chat messages":    {entity: EntityChatMessage},
	"slack message":    {app: AppChat, entity: EntityChatMessage},
	"slack messages":   {app: AppChat, entity: EntityChatMessage},
	"direct message":   {entity: EntityChatMessage},
	"direct messages":  {entity: EntityChatMessage},
	"dm":               {entity: EntityChatMessage},
	"dms":              {entity: EntityChatMessage},
})

// Entity classes the vocabulary knows of but no connector serves.
var unsupportedForms = buildForms(map[string]surfaceForm{
	"tweet":         {},
	"tweets":        {},
	"instagram":     {},
	"whatsapp":      {},
	"linkedin":      {},
	"sms":           {},
	"text message":  {},
	"text messages": {},
	"voicemail":     {},
	"voicemails":    {},
})

func buildForms(m map[string]surfaceForm) []surfaceForm {
	out := make([]surfaceForm, 0, len(m))
	for phrase, f := range m {
		f.words = strings.Fields(phrase)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].words) != len(out[j].words) {
			return len(out[i].words) > len(out[j].words)
		}
		return strings.Join(out[i].words, " ") < strings.Join(out[j].words, " ")
	})
	return out
}

// VocabularyMatch is the result of matching lowercased tokens against the vocabulary.
type VocabularyMatch struct {
	Apps        []App
	Entities    []Entity
	Unsupported []string
	// Consumed marks token positions that were part of a surface form.
	Consumed map[int]bool
}

// MatchVocabulary detects apps and entities. Entities also imply their home app.
func MatchVocabulary(tokens []string) VocabularyMatch {
	m := VocabularyMatch{Consumed: make(map[int]bool)}

	for i := 0; i < len(tokens); {
		if n, phrase := matchAt(unsupportedForms, tokens, i); n > 0 {
			m.Unsupported = append(m.Unsupported, phrase)
			markConsumed(m.Consumed, i, n)
			i += n
			continue
		}

		n := 0
		for _, f := range surfaceForms {
			if !hasPrefixAt(tokens, i, f.words) {
				continue
			}
			n = len(f.words)
			if f.app != "" {
				m.Apps = append(m.Apps, f.app)
			}
			if f.entity != "" {
				m.Entities = append(m.Entities, f.entity)
				m.Apps = append(m.Apps, f.entity.HomeApp())
			}
			break
		}
		if n == 0 {
			i++
			continue
		}
		markConsumed(m.Consumed, i, n)
		i += n
	}

	m.Apps = SortedApps(m.Apps)
	m.Entities = SortedEntities(m.Entities)
	return m
}

func matchAt(forms []surfaceForm, tokens []string, i int) (int, string) {
	for _, f := range forms {
		if hasPrefixAt(tokens, i, f.words) {
			return len(f.words), strings.Join(f.words, " ")
		}
	}
	return 0, ""
}

func hasPrefixAt(tokens []string, i int, words []string) bool {
	if i+len(words) > len(tokens) {
		return false
	}
	for k, w := range words {
		if tokens[i+k] != w {
			return false
		}
	}
	return true
}

func markConsumed(consumed map[int]bool, start, n int) {
	for k := start; k < start+n; k++ {
		consumed[k] = true
	}
}
