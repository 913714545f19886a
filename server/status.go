package server

import "strings"

// Status is a board status in its canonical Thai form. The set below is
// what the clients send, but the board never rejects a status it does
// not recognize; unknown values pass through and announce generically.
type Status string

const (
	StatusWaiting    Status = "รอผ่าตัด"
	StatusInSurgery  Status = "กำลังผ่าตัด"
	StatusInRecovery Status = "กำลังพักฟื้น"
	StatusRecovered  Status = "พักฟื้นครบแล้ว"
	StatusTransfer   Status = "กำลังส่งกลับตึก"
	StatusPostponed  Status = "เลื่อนการผ่าตัด"
)

var statusEnglish = map[Status]string{
	StatusWaiting:    "waiting for surgery",
	StatusInSurgery:  "in surgery",
	StatusInRecovery: "in recovery",
	StatusRecovered:  "recovery complete",
	StatusTransfer:   "being transferred back to the ward",
	StatusPostponed:  "surgery postponed",
}

// English translates a status for spoken announcements. Unknown statuses
// read as "updated".
func (s Status) English() string {
	if en, ok := statusEnglish[s]; ok {
		return en
	}
	return "updated"
}

// Known reports whether the status is one of the canonical values.
func (s Status) Known() bool {
	_, ok := statusEnglish[s]
	return ok
}

// MaskHN hides the tail of a hospital number: every digit but the last
// three is kept and "XXX" replaces the rest. Too-short values are
// returned unchanged.
func MaskHN(hn string) string {
	if len(hn) < 3 {
		return hn
	}
	return hn[:len(hn)-3] + "XXX"
}

var thaiDigits = map[rune]string{
	'0': "ศูนย์", '1': "หนึ่ง", '2': "สอง", '3': "สาม", '4': "สี่",
	'5': "ห้า", '6': "หก", '7': "เจ็ด", '8': "แปด", '9': "เก้า",
}

var thaiLetters = map[rune]string{
	'O': "โอ", 'o': "โอ", 'R': "อา", 'r': "อา",
	'A': "เอ", 'a': "เอ", 'B': "บี", 'b': "บี", 'C': "ซี", 'c': "ซี",
	'D': "ดี", 'd': "ดี", 'E': "อี", 'e': "อี", 'F': "เอฟ", 'f': "เอฟ",
	'G': "จี", 'g': "จี", 'H': "เฮช", 'h': "เฮช", 'I': "ไอ", 'i': "ไอ",
	'J': "เจ", 'j': "เจ", 'K': "เค", 'k': "เค", 'L': "แอล", 'l': "แอล",
	'M': "เอ็ม", 'm': "เอ็ม", 'N': "เอ็น", 'n': "เอ็น", 'P': "พี", 'p': "พี",
	'Q': "คิว", 'q': "คิว", 'S': "เอส", 's': "เอส", 'T': "ที", 't': "ที",
	'U': "ยู", 'u': "ยู", 'V': "วี", 'v': "วี", 'W': "ดับเบิลยู", 'w': "ดับเบิลยู",
	'X': "เอ็กซ์", 'x': "เอ็กซ์", 'Y': "วาย", 'y': "วาย", 'Z': "แซด", 'z': "แซด",
}

var englishDigits = map[rune]string{
	'0': "zero", '1': "one", '2': "two", '3': "three", '4': "four",
	'5': "five", '6': "six", '7': "seven", '8': "eight", '9': "nine",
}

func isPIDSeparator(r rune) bool {
	switch r {
	case '-', '–', '—', '_', ' ':
		return true
	}
	return false
}

// speakPIDThai spells a patient code for Thai speech synthesis:
// OR1-05 reads as โออาหนึ่งศูนย์ห้า.
func speakPIDThai(pid string) string {
	var b strings.Builder
	for _, r := range pid {
		if isPIDSeparator(r) {
			continue
		}
		switch {
		case r >= '0' && r <= '9':
			b.WriteString(thaiDigits[r])
		default:
			if th, ok := thaiLetters[r]; ok {
				b.WriteString(th)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// speakPIDEnglish spells a patient code character by character:
// OR1-05 reads as "O R one zero five".
func speakPIDEnglish(pid string) string {
	var tokens []string
	for _, r := range pid {
		if isPIDSeparator(r) {
			continue
		}
		switch {
		case r >= '0' && r <= '9':
			tokens = append(tokens, englishDigits[r])
		case r >= 'a' && r <= 'z':
			tokens = append(tokens, strings.ToUpper(string(r)))
		case r >= 'A' && r <= 'Z':
			tokens = append(tokens, string(r))
		default:
			tokens = append(tokens, string(r))
		}
	}
	return strings.Join(tokens, " ")
}
