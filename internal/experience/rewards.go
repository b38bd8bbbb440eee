package experience

// DefaultGamma is the discount used by the scanner training scripts
const DefaultGamma = 0.99

// DiscountedReturns computes G_t = r_t + gamma * G_{t+1} for one episode's rewards
func DiscountedReturns(rewards []float64, gamma float64) []float64 {
	returns := make([]float64, len(rewards))
	running := 0.0
	for i := len(rewards) - 1; i >= 0; i-- {
		running = rewards[i] + gamma*running
		returns[i] = running
	}
	return returns
}

// EpisodeRewards extracts the rewards of one episode from transitions, in step order.
// Transitions from other episodes are skipped.
func EpisodeRewards(transitions []*Transition, episodeID string) []float64 {
	var rewards []float64
	lastStep := 0
	for _, t := range transitions {
		if t.EpisodeID != episodeID || t.Step <= lastStep {
			continue
		}
		rewards = append(rewards, t.Reward)
		lastStep = t.Step
	}
	return rewards
}

// SplitEpisodes groups transitions by episode, keeping first-seen episode order
func SplitEpisodes(transitions []*Transition) (order []string, byEpisode map[string][]*Transition) {
	byEpisode = make(map[string][]*Transition)
	for _, t := range transitions {
		if _, seen := byEpisode[t.EpisodeID]; !seen {
			order = append(order, t.EpisodeID)
		}
		byEpisode[t.EpisodeID] = append(byEpisode[t.EpisodeID], t)
	}
	return order, byEpisode
}
