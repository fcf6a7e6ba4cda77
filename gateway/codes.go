package gateway

// CodeSet partitions the gateway's notice codes into informational messages
// and fatal errors. The gateway overloads a single error channel for benign
// notices ("using delayed data", "read-only mode"), so any code not listed
// here is treated as fatal for the correlated request.
type CodeSet struct {
	informational map[int]struct{}
}

// Informational codes seen in practice:
//
//	2104, 2106, 2119, 2158  connection / data farm status
//	2176                    fractional share size rules warning
//	10089                   additional subscriptions required, delayed data follows
//	10167, 10168            delayed market data notices
//	300, 354                ticker not found / not subscribed, emitted after a
//	                        request was already cancelled
var defaultInformationalCodes = []int{
	300, 354, 2104, 2106, 2119, 2158, 2176, 10089, 10167, 10168,
}

func NewCodeSet(informational ...int) *CodeSet {
	var s = &CodeSet{informational: make(map[int]struct{}, len(informational))}
	for _, code := range informational {
		s.informational[code] = struct{}{}
	}
	return s
}

func DefaultCodeSet() *CodeSet {
	return NewCodeSet(defaultInformationalCodes...)
}

func (s *CodeSet) Informational(code int) bool {
	_, ok := s.informational[code]
	return ok
}

// Codes returns the informational allow-list, mostly for logging and tests.
func (s *CodeSet) Codes() []int {
	var res = make([]int, 0, len(s.informational))
	for code := range s.informational {
		res = append(res, code)
	}
	return res
}
