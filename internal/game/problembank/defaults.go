package problembank

// Defaults returns the built-in riddle inventory used when none is configured.
func Defaults() []Problem {
	return []Problem{
		{Key: "fibonacci", Prompt: "What comes next in this sequence: 1, 1, 2, 3, 5, 8, 13, ?", Answer: "21"},
		{Key: "odd-sums", Prompt: "If 2+3=10, 7+2=63, 6+5=66, then 8+4=?", Answer: "96"},
		{Key: "tree", Prompt: "I have branches but no fruit, trunk but no luggage, bark but no dog. What am I?", Answer: "tree"},
		{Key: "keyboard", Prompt: "What has keys but no locks, space but no room, and you can enter but not go inside?", Answer: "keyboard"},
		{Key: "short", Prompt: "What 5-letter word becomes shorter when you add two letters to it?", Answer: "short"},
		{Key: "hole", Prompt: "The more you take away from me, the bigger I become. What am I?", Answer: "hole"},
		{Key: "stamp", Prompt: "What can travel around the world while staying in a corner?", Answer: "stamp"},
		{Key: "sevens", Prompt: "If you count from 1 to 100, how many 7's will you pass on the way?", Answer: "20"},
	}
}
