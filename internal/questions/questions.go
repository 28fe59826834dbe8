// Package questions holds the fixed interview question set.
package questions

import "sort"

var catalog = [...]string{
	"Conte-me sobre um momento em sua vida que você considera um ponto de virada significativo. O que aconteceu e como isso mudou você?",
	"Descreva uma situação em que você teve que tomar uma decisão muito difícil. Como você chegou à sua escolha e o que aprendeu sobre si mesmo?",
	"Fale sobre uma pessoa que teve grande influência em sua vida. Como ela impactou seus valores e perspectivas?",
	"Relate uma experiência em que você enfrentou um grande desafio ou obstáculo. Como você lidou com isso e o que descobriu sobre sua resiliência?",
	"Conte sobre um momento em que você se sentiu mais autêntico e verdadeiro consigo mesmo. O que estava acontecendo e por que foi significativo?",
	"Descreva uma situação em que seus valores foram testados ou questionados. Como você reagiu e o que isso revelou sobre suas convicções?",
	"Fale sobre um sonho ou objetivo que você tem para o futuro. Por que é importante para você e como pretende alcançá-lo?",
	"Relate uma experiência de perda ou luto que marcou sua vida. Como você processou essa experiência e o que ela ensinou sobre você?",
	"Conte sobre um momento em que você teve que perdoar alguém ou a si mesmo. Como foi esse processo e o que aprendeu sobre perdão?",
	"Descreva como você vê seu propósito de vida atualmente. Como essa visão evoluiu ao longo do tempo?",
}

// Count is the size of the question set. Valid indices are 0..Count-1.
const Count = len(catalog)

type Question struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// All returns the question set in index order.
func All() []Question {
	out := make([]Question, 0, Count)
	for i, text := range catalog {
		out = append(out, Question{Index: i, Text: text})
	}
	return out
}

func Valid(index int) bool {
	return index >= 0 && index < Count
}

func Text(index int) (string, bool) {
	if !Valid(index) {
		return "", false
	}
	return catalog[index], true
}

// Progress is the derived completion state of a session. A session is
// never marked completed in storage; it is completed when every question
// index has at least one response.
type Progress struct {
	Answered  []int `json:"answered"`
	Missing   []int `json:"missing"`
	Total     int   `json:"total"`
	Completed bool  `json:"completed"`
}

// ProgressOf computes progress from the question indices that have
// responses. Duplicates and out-of-range indices are ignored.
func ProgressOf(answered []int) Progress {
	seen := make(map[int]struct{}, len(answered))
	for _, idx := range answered {
		if Valid(idx) {
			seen[idx] = struct{}{}
		}
	}

	p := Progress{
		Answered: make([]int, 0, len(seen)),
		Missing:  make([]int, 0, Count-len(seen)),
		Total:    Count,
	}
	for idx := range seen {
		p.Answered = append(p.Answered, idx)
	}
	sort.Ints(p.Answered)
	for i := 0; i < Count; i++ {
		if _, ok := seen[i]; !ok {
			p.Missing = append(p.Missing, i)
		}
	}
	p.Completed = len(p.Missing) == 0
	return p
}
